package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		code    ErrorCode
		message string
	}{
		{name: "TransientOracle", code: TransientOracle, message: "rate limited"},
		{name: "PermanentOracle", code: PermanentOracle, message: "malformed request"},
		{name: "InvariantViolation", code: InvariantViolation, message: "fingerprint collision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			e, ok := err.(*Error)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code())
			assert.Nil(t, e.Unwrap())
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestWrapError(t *testing.T) {
	original := stderrors.New("connection reset")
	wrapped := Wrap(original, TransientOracle, "oracle call failed")
	require.Error(t, wrapped)

	e, ok := wrapped.(*Error)
	require.True(t, ok)
	assert.Equal(t, TransientOracle, e.Code())
	assert.Equal(t, original, e.Unwrap())
	assert.Contains(t, wrapped.Error(), "connection reset")

	assert.Nil(t, Wrap(nil, TransientOracle, "unused"))
}

func TestWithFields(t *testing.T) {
	err := New(QueueFull, "outbox full")
	withFields := WithFields(err, Fields{"island": 2, "dropped": "old-elite"})

	e, ok := withFields.(*Error)
	require.True(t, ok)
	assert.Equal(t, QueueFull, e.Code())
	assert.Equal(t, 2, e.Fields()["island"])

	// Merging again should not lose prior fields.
	further := WithFields(withFields, Fields{"round": 5})
	fe := further.(*Error)
	assert.Equal(t, 2, fe.Fields()["island"])
	assert.Equal(t, 5, fe.Fields()["round"])

	assert.Nil(t, WithFields(nil, Fields{"x": 1}))
}

func TestIs(t *testing.T) {
	a := New(CacheCorruption, "bad decode")
	b := New(CacheCorruption, "different message, same code")
	c := New(BudgetExhausted, "done")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Unknown, CodeOf(nil))
	assert.Equal(t, Unknown, CodeOf(stderrors.New("plain")))

	wrapped := Wrap(New(TransientOracle, "inner"), TransientOracle, "outer")
	assert.Equal(t, TransientOracle, CodeOf(wrapped))

	doubleWrapped := fmt_wrap(wrapped)
	assert.Equal(t, TransientOracle, CodeOf(doubleWrapped))
}

// fmt_wrap simulates a foreign error type wrapping one of ours, to
// exercise CodeOf's Unwrap chain walk.
func fmt_wrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ inner error }

func (w *wrapper) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapper) Unwrap() error { return w.inner }
