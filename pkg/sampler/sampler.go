// Package sampler deterministically produces the example-ID list for
// each (rung, round) by blending a stable coreset, a seeded uniform
// random draw, and the HardnessSet of previously-failing examples
// (spec.md §4.3).
package sampler

import (
	"math/rand"
	"sort"
)

// Mix ratios are fixed per configuration (spec.md §4.3: "Mix ratios are
// fixed per configuration"); turbo-gepa fixes them at these shares
// rather than exposing a config knob, since spec.md §6's option table
// does not name one.
const (
	coresetShare  = 0.5
	hardnessShare = 0.2
	randomShare   = 0.3
)

// coresetFraction is the portion of the full dataset held out as the
// stable, uniform-over-dataset coreset (deterministic, independent of
// round or island).
const coresetFraction = 0.2

// HardnessCap bounds the HardnessSet reservoir (spec.md §3: "Bounded
// multiset ... with a reservoir cap").
const HardnessCap = 512

// HardnessSet is a bounded multiset of example IDs that have produced
// failures, used to bias future shard composition (spec.md §3, §4.3).
// Fixed-capacity reservoir sampling (Algorithm R) keeps every observed
// failure ID equally likely to survive once the cap is reached.
type HardnessSet struct {
	cap   int
	items []string
	seen  int64
	rng   *rand.Rand
}

// NewHardnessSet creates an empty HardnessSet seeded for determinism.
func NewHardnessSet(seed int64) *HardnessSet {
	return &HardnessSet{cap: HardnessCap, rng: rand.New(rand.NewSource(seed))}
}

// Record adds ids (typically the failing example IDs from a pruned
// candidate's shard, spec.md §4.5) to the reservoir.
func (h *HardnessSet) Record(ids []string) {
	for _, id := range ids {
		h.seen++
		if len(h.items) < h.cap {
			h.items = append(h.items, id)
			continue
		}
		j := h.rng.Int63n(h.seen)
		if j < int64(h.cap) {
			h.items[j] = id
		}
	}
}

// Snapshot returns a copy of the current reservoir contents.
func (h *HardnessSet) Snapshot() []string {
	out := make([]string, len(h.items))
	copy(out, h.items)
	return out
}

// Sampler selects example IDs for a rung/round from a fixed dataset.
type Sampler struct {
	allIDs  []string
	coreset []string
	hard    *HardnessSet
}

// New builds a Sampler over the full ordered set of dataset example IDs.
// The coreset is the first coresetFraction of allIDs after a stable
// sort, so it is identical across islands and rounds (spec.md §4.3:
// "a stable coreset (uniform over dataset)").
func New(allIDs []string, hard *HardnessSet) *Sampler {
	sorted := append([]string(nil), allIDs...)
	sort.Strings(sorted)
	n := int(float64(len(sorted)) * coresetFraction)
	if n < 1 && len(sorted) > 0 {
		n = 1
	}
	coreset := make([]string, n)
	copy(coreset, sorted[:n])
	return &Sampler{allIDs: sorted, coreset: coreset, hard: hard}
}

// SampleForRung returns the example IDs for one (round, rung), sized to
// fraction*len(dataset) (minimum 1 if the dataset is non-empty).
// Deterministic given (islandID, round, fraction): the random pool is
// drawn from a source seeded by (islandID, round) alone, per spec.md
// §4.3.
func (s *Sampler) SampleForRung(islandID, round int, fraction float64) []string {
	total := len(s.allIDs)
	if total == 0 {
		return nil
	}
	n := int(fraction * float64(total))
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}

	rng := rand.New(rand.NewSource(seedFor(islandID, round)))

	coresetN := int(float64(n) * coresetShare)
	hardN := int(float64(n) * hardnessShare)
	randomN := n - coresetN - hardN
	if randomN < 0 {
		randomN = 0
	}

	picked := make(map[string]bool, n)
	var out []string

	add := func(id string) bool {
		if picked[id] || len(out) >= n {
			return false
		}
		picked[id] = true
		out = append(out, id)
		return true
	}

	// 1. Coreset slice, shuffled deterministically then truncated.
	coreset := append([]string(nil), s.coreset...)
	rng.Shuffle(len(coreset), func(i, j int) { coreset[i], coreset[j] = coreset[j], coreset[i] })
	for _, id := range coreset {
		if len(out) >= coresetN {
			break
		}
		add(id)
	}

	// 2. HardnessSet members.
	if s.hard != nil {
		hardIDs := s.hard.Snapshot()
		rng.Shuffle(len(hardIDs), func(i, j int) { hardIDs[i], hardIDs[j] = hardIDs[j], hardIDs[i] })
		hardTaken := 0
		for _, id := range hardIDs {
			if hardTaken >= hardN || len(out) >= n {
				break
			}
			if add(id) {
				hardTaken++
			}
		}
	}

	// 3. Uniform random draw over the remaining dataset to fill the
	// rest (both the random share and any shortfall from steps 1-2).
	remaining := append([]string(nil), s.allIDs...)
	rng.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
	for _, id := range remaining {
		if len(out) >= n {
			break
		}
		add(id)
	}
	_ = randomN // documents intent; the fill loop above absorbs any shortfall

	sort.Strings(out) // stable, order-independent shard identity for fingerprinting
	return out
}

// Hardness returns the HardnessSet backing this Sampler, so the
// Orchestrator can forward a pruned candidate's failing example IDs
// into it (spec.md §4.5: "its failures are forwarded to the Sampler").
// Nil if the Sampler was built without one.
func (s *Sampler) Hardness() *HardnessSet {
	return s.hard
}

func seedFor(islandID, round int) int64 {
	return int64(islandID)*1_000_003 + int64(round)
}
