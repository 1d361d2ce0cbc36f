// Package errors provides the structured error type used across turbo-gepa
// to distinguish the error kinds spec.md §7 requires components to
// recognize (transient vs. permanent oracle failure, cache corruption,
// queue overflow, budget exhaustion, and fatal invariant violations).
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode enumerates the recognized error kinds.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	InvalidInput
	Timeout
	Canceled

	// TransientOracle marks an oracle call that should be retried with
	// backoff (§4.4).
	TransientOracle
	// PermanentOracle marks an oracle call that must be recorded as a
	// structural failure and never retried (§4.4, §4.5).
	PermanentOracle
	// CacheCorruption marks a cache entry that failed to decode; callers
	// treat it as a miss and overwrite it (§4.2, §6).
	CacheCorruption
	// QueueFull marks a migration outbox that dropped its oldest entry
	// to make room (§4.9).
	QueueFull
	// BudgetExhausted marks graceful termination via round or evaluation
	// budget (§4.10).
	BudgetExhausted
	// InvariantViolation marks a fatal condition (fingerprint collision
	// with inconsistent text, double insertion, etc.) that must abort
	// the island process rather than be swallowed (§7).
	InvariantViolation
)

func (c ErrorCode) String() string {
	switch c {
	case InvalidInput:
		return "InvalidInput"
	case Timeout:
		return "Timeout"
	case Canceled:
		return "Canceled"
	case TransientOracle:
		return "TransientOracle"
	case PermanentOracle:
		return "PermanentOracle"
	case CacheCorruption:
		return "CacheCorruption"
	case QueueFull:
		return "QueueFull"
	case BudgetExhausted:
		return "BudgetExhausted"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// Fields carries structured context about an error.
type Fields map[string]interface{}

// Error is a structured error with a code, message, optional wrapped
// cause, and optional structured fields.
type Error struct {
	code     ErrorCode
	message  string
	original error
	fields   Fields
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.code.String())
	b.WriteString(": ")
	b.WriteString(e.message)
	if e.original != nil {
		b.WriteString(": ")
		b.WriteString(e.original.Error())
	}
	if len(e.fields) > 0 {
		b.WriteString(" [")
		for k, v := range e.fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
		b.WriteString("]")
	}
	return strings.TrimSpace(b.String())
}

func (e *Error) Unwrap() error { return e.original }

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Fields() Fields {
	if e.fields == nil {
		return Fields{}
	}
	out := make(Fields, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// New creates a new Error with a code and message.
func New(code ErrorCode, message string) error {
	return &Error{code: code, message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, original: err}
}

// WithFields returns a copy of err with the given fields merged in.
func WithFields(err error, fields Fields) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		merged := make(Fields, len(e.fields)+len(fields))
		for k, v := range e.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		return &Error{code: e.code, message: e.message, original: e.original, fields: merged}
	}
	return &Error{code: Unknown, message: err.Error(), original: err, fields: fields}
}

// Is reports whether target has the same ErrorCode.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// CodeOf extracts the ErrorCode from err, or Unknown if err is not (or
// does not wrap) a *Error.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}
