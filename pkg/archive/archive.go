// Package archive maintains the two structures FullyEvaluated
// candidates are judged against: a multi-objective Pareto frontier and
// a quality-diversity (QD) grid (spec.md §4.6).
package archive

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// Config parameterizes the QD grid discretization (spec.md §6:
// qd_bins_length, qd_bins_bullets, qd_flags) and which objective drives
// QD cell replacement.
type Config struct {
	QDBinsLength     int
	QDBinsBullets    int
	QDFlags          []string
	PromoteObjective string
}

// Entry is one archived candidate together with the objective vector
// it was admitted under.
type Entry struct {
	Candidate  gepacore.Candidate
	Objectives map[string]float64 // quality, neg_cost, tokens (raw, not utility-flipped)
}

type qdCell struct {
	entry Entry
	score float64
}

// Archive is safe for concurrent readers; per spec.md §5 mutation is
// confined to the Orchestrator, so Insert itself does not need to be
// call-safe against concurrent Inserts, but SampleQD/ParetoCandidates
// may be read from other goroutines between rounds.
type Archive struct {
	mu     sync.RWMutex
	cfg    Config
	pareto []Entry
	qd     map[string]qdCell
}

// New builds an empty Archive.
func New(cfg Config) *Archive {
	if cfg.PromoteObjective == "" {
		cfg.PromoteObjective = gepacore.ObjQuality
	}
	if cfg.QDBinsLength <= 0 {
		cfg.QDBinsLength = 8
	}
	if cfg.QDBinsBullets <= 0 {
		cfg.QDBinsBullets = 6
	}
	return &Archive{cfg: cfg, qd: map[string]qdCell{}}
}

// Insert offers candidate (whose top-rung result is shard) to both
// structures under a single critical section, returning which accepted
// it (spec.md §4.6).
func (a *Archive) Insert(candidate gepacore.Candidate, shard gepacore.ShardResult) (paretoAccepted, qdAccepted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Entry{Candidate: candidate, Objectives: map[string]float64{
		gepacore.ObjQuality: shard.Means[gepacore.ObjQuality],
		gepacore.ObjNegCost: shard.Means[gepacore.ObjNegCost],
		gepacore.ObjTokens:  shard.Means[gepacore.ObjTokens],
	}}

	paretoAccepted = a.insertPareto(entry)
	qdAccepted = a.insertQD(entry, shard.Means[a.cfg.PromoteObjective])
	return paretoAccepted, qdAccepted
}

// utilityVec returns (quality, neg_cost, -tokens): all three maximized,
// tokens flipped to a utility per spec.md §4.6 ("tokens counted as
// negative utility").
func utilityVec(o map[string]float64) [3]float64 {
	return [3]float64{o[gepacore.ObjQuality], o[gepacore.ObjNegCost], -o[gepacore.ObjTokens]}
}

// dominates reports whether a dominates b: >= in every objective and
// strictly > in at least one. Grounded on the teacher's
// dominates(fitness1, fitness2) shape in pkg/optimizers/gepa.go.
func dominates(a, b [3]float64) bool {
	atLeastOneGreater := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			atLeastOneGreater = true
		}
	}
	return atLeastOneGreater
}

// insertPareto is O(|frontier|): any incumbent dominated by the
// newcomer is dropped; the newcomer is rejected if any incumbent
// dominates it.
func (a *Archive) insertPareto(entry Entry) bool {
	newVec := utilityVec(entry.Objectives)
	kept := make([]Entry, 0, len(a.pareto))
	for _, incumbent := range a.pareto {
		incVec := utilityVec(incumbent.Objectives)
		if dominates(incVec, newVec) {
			return false
		}
		if !dominates(newVec, incVec) {
			kept = append(kept, incumbent)
		}
	}
	kept = append(kept, entry)
	a.pareto = kept
	return true
}

// ParetoCandidates returns a snapshot of the current frontier.
func (a *Archive) ParetoCandidates() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.pareto))
	copy(out, a.pareto)
	return out
}

// insertQD maps entry to exactly one grid cell, replacing the
// incumbent iff score strictly exceeds it (ties favor the incumbent,
// spec.md §8).
func (a *Archive) insertQD(entry Entry, score float64) bool {
	key := a.binKey(entry.Candidate.Text)
	incumbent, ok := a.qd[key]
	if ok && score <= incumbent.score {
		return false
	}
	a.qd[key] = qdCell{entry: entry, score: score}
	return true
}

// binKey discretizes candidate text into (length bucket, bullet-line
// bucket, feature-flag subset) per spec.md §4.6.
func (a *Archive) binKey(text string) string {
	lengthBin := bucket(len(text), 60, a.cfg.QDBinsLength)
	bulletBin := bucket(countBulletLines(text), 1, a.cfg.QDBinsBullets)
	flags := 0
	for i, name := range a.cfg.QDFlags {
		if hasFlag(text, name) {
			flags |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%d:%d:%d", lengthBin, bulletBin, flags)
}

// bucket maps a non-negative count into [0, bins) by a fixed stride;
// values beyond the last bin saturate at bins-1.
func bucket(count, stride, bins int) int {
	if bins <= 1 {
		return 0
	}
	b := count / stride
	if b >= bins {
		b = bins - 1
	}
	return b
}

func countBulletLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			n++
			continue
		}
		if len(trimmed) > 1 && trimmed[0] >= '0' && trimmed[0] <= '9' {
			if idx := strings.IndexAny(trimmed, ".)"); idx > 0 && idx < 3 {
				n++
			}
		}
	}
	return n
}

// hasFlag implements the fixed 3-flag set named in spec.md §6
// (qd_flags default: has_examples, has_constraints, has_format_spec);
// any additional configured flag name falls back to a case-insensitive
// substring match against the flag's own name.
func hasFlag(text, name string) bool {
	lower := strings.ToLower(text)
	switch name {
	case "has_examples":
		return strings.Contains(lower, "example") || strings.Contains(lower, "e.g.")
	case "has_constraints":
		return strings.Contains(lower, "must ") || strings.Contains(lower, "constraint") || strings.Contains(lower, "never ")
	case "has_format_spec":
		return strings.Contains(lower, "format:") || strings.Contains(lower, "respond in") || strings.Contains(lower, "output format")
	default:
		return strings.Contains(lower, strings.ToLower(name))
	}
}

// SampleQD returns up to k elites, weighted toward underpopulated
// regions of the grid: a cell's weight is inversely proportional to how
// many occupied cells (itself included) share its length bucket, so rounds spend
// more mutation budget exploring sparsely represented shapes. Sampling
// is without replacement (Efraimidis-Spirakis weighted reservoir).
func (a *Archive) SampleQD(k int, rng *rand.Rand) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if k <= 0 || len(a.qd) == 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	lengthBinCounts := map[int]int{}
	type keyed struct {
		entry Entry
		lenB  int
	}
	cells := make([]keyed, 0, len(a.qd))
	for key, cell := range a.qd {
		lb := 0
		fmt.Sscanf(key, "%d:", &lb)
		lengthBinCounts[lb]++
		cells = append(cells, keyed{entry: cell.entry, lenB: lb})
	}

	type weighted struct {
		entry Entry
		u     float64 // ranking key, higher wins
	}
	ranked := make([]weighted, 0, len(cells))
	for _, c := range cells {
		w := 1.0 / float64(lengthBinCounts[c.lenB])
		u := math.Pow(rng.Float64(), 1.0/w)
		ranked = append(ranked, weighted{entry: c.entry, u: u})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].u > ranked[j].u })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].entry
	}
	return out
}

// PopulatedBins returns the number of occupied QD cells, used by the
// Orchestrator's `summary` event (spec.md §6).
func (a *Archive) PopulatedBins() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.qd)
}

// Hypervolume computes the 2D (quality, neg_cost) hypervolume dominated
// by the current Pareto frontier relative to reference, used by the
// optional StopGovernor (SPEC_FULL item 1). Grounded on
// original_source/stop_governor.py's compute_hypervolume_2d.
func (a *Archive) Hypervolume(referenceQuality, referenceNegCost float64) float64 {
	a.mu.RLock()
	points := make([][2]float64, len(a.pareto))
	for i, e := range a.pareto {
		points[i] = [2]float64{e.Objectives[gepacore.ObjQuality], e.Objectives[gepacore.ObjNegCost]}
	}
	a.mu.RUnlock()

	if len(points) == 0 {
		return 0
	}
	sort.Slice(points, func(i, j int) bool { return points[i][0] > points[j][0] })

	hv := 0.0
	prevCost := referenceNegCost
	for _, p := range points {
		q, c := p[0], p[1]
		if q > referenceQuality && c > prevCost {
			hv += (q - referenceQuality) * (c - prevCost)
			prevCost = c
		}
	}
	return hv
}
