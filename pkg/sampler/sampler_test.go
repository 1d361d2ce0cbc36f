package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idRange(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return ids
}

func TestSampleForRungDeterministicPerIslandRound(t *testing.T) {
	s := New(idRange(20), NewHardnessSet(1))

	a := s.SampleForRung(0, 3, 0.5)
	b := s.SampleForRung(0, 3, 0.5)
	require.Equal(t, a, b)
}

func TestSampleForRungVariesByRoundOrIsland(t *testing.T) {
	s := New(idRange(20), NewHardnessSet(1))

	byRound := s.SampleForRung(0, 3, 0.5)
	otherRound := s.SampleForRung(0, 4, 0.5)
	otherIsland := s.SampleForRung(1, 3, 0.5)

	assert.False(t, sameSlice(byRound, otherRound) && sameSlice(byRound, otherIsland),
		"changing island or round should be able to change the drawn set")
}

func TestSampleForRungSizedToFraction(t *testing.T) {
	s := New(idRange(20), NewHardnessSet(1))

	out := s.SampleForRung(0, 0, 0.25)
	assert.Len(t, out, 5)

	full := s.SampleForRung(0, 0, 1.0)
	assert.Len(t, full, 20)
}

func TestSampleForRungMinimumOneExample(t *testing.T) {
	s := New(idRange(3), NewHardnessSet(1))
	out := s.SampleForRung(0, 0, 0.01)
	assert.Len(t, out, 1)
}

func TestSampleForRungNoDuplicates(t *testing.T) {
	s := New(idRange(50), NewHardnessSet(2))
	out := s.SampleForRung(2, 5, 0.8)
	seen := map[string]bool{}
	for _, id := range out {
		assert.False(t, seen[id], "duplicate id in shard: %s", id)
		seen[id] = true
	}
}

func TestHardnessSetRecordAndCap(t *testing.T) {
	h := NewHardnessSet(7)
	ids := idRange(HardnessCap * 2)
	h.Record(ids)
	assert.LessOrEqual(t, len(h.Snapshot()), HardnessCap)
}

func TestHardnessSetBelowCapKeepsAll(t *testing.T) {
	h := NewHardnessSet(7)
	h.Record([]string{"x", "y", "z"})
	assert.ElementsMatch(t, []string{"x", "y", "z"}, h.Snapshot())
}

func TestSampleForRungEmptyDataset(t *testing.T) {
	s := New(nil, NewHardnessSet(1))
	out := s.SampleForRung(0, 0, 0.5)
	assert.Nil(t, out)
}

func sameSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
