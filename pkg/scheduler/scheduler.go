// Package scheduler implements the Asynchronous Successive Halving
// rung ladder that drives candidates through progressively larger
// shards, promoting only those worth the next rung's cost (spec.md
// §4.5).
package scheduler

import (
	"context"
	"sort"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/evaluator"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// State is a candidate's position in the rung state machine (spec.md
// §4.5: "Admitted → Racing(r) → {Promoted(r+1) | Pruned(r) |
// FullyEvaluated}").
type State int

const (
	StatePromoted State = iota
	StatePruned
	StateFullyEvaluated
)

func (s State) String() string {
	switch s {
	case StatePromoted:
		return "promoted"
	case StatePruned:
		return "pruned"
	case StateFullyEvaluated:
		return "fully_evaluated"
	default:
		return "unknown"
	}
}

// Racer is one candidate racing through the rung ladder alongside its
// parent's prior-rung mean, used to compute the eps_improve exception
// to the cohort_quantile cutoff.
type Racer struct {
	Candidate       gepacore.Candidate
	ParentPriorMean float64 // parent's mean on the promote objective as last recorded by the caller; 0 for rung-0 admits and candidates with no recorded parent
}

// Outcome is one racer's result after one rung.
type Outcome struct {
	Candidate  gepacore.Candidate
	Shard      gepacore.ShardResult
	State      State
	RungIndex  int
	PromoScore float64
}

// Options configures one RunRung call.
type Options struct {
	PromoteObjective string // spec.md §6 "promote_objective" (default "quality")
	CohortQuantile   float64
	EpsImprove       float64
	EvalOptions      evaluator.Options
}

// Scheduler dispatches one rung's cohort to the Evaluator and applies
// the promotion rule.
type Scheduler struct {
	eval *evaluator.Evaluator
}

// New builds a Scheduler over eval.
func New(eval *evaluator.Evaluator) *Scheduler {
	return &Scheduler{eval: eval}
}

// RunRung evaluates every racer on rung's shard, then promotes the top
// (1 - cohort_quantile) fraction of the cohort by rank plus, past rung 0,
// anyone exceeding their own parent's prior-rung mean by eps_improve.
// Structural failures are pruned immediately,
// regardless of quantile standing (spec.md §4.5).
func (s *Scheduler) RunRung(ctx context.Context, rung gepacore.Rung, racers []Racer, opts Options) []Outcome {
	if len(racers) == 0 {
		return nil
	}
	promoteObj := opts.PromoteObjective
	if promoteObj == "" {
		promoteObj = gepacore.ObjQuality
	}

	evalOpts := opts.EvalOptions
	outcomes := make([]Outcome, len(racers))
	for i, r := range racers {
		shard := s.eval.Evaluate(ctx, r.Candidate, rung.ExampleIDs, evalOpts)
		outcomes[i] = Outcome{
			Candidate:  r.Candidate,
			Shard:      shard,
			RungIndex:  rung.Index,
			PromoScore: shard.Means[promoteObj],
		}
	}

	// Structural failures are pruned unconditionally and excluded from
	// the quantile computation entirely.
	var live []int
	for i, o := range outcomes {
		if o.Shard.StructuralFail {
			outcomes[i].State = StatePruned
			continue
		}
		live = append(live, i)
	}
	if len(live) == 0 {
		return outcomes
	}

	sorted := append([]int(nil), live...)
	sort.Slice(sorted, func(a, b int) bool {
		return lessRankedHigher(outcomes[sorted[a]], outcomes[sorted[b]])
	})

	// cohort_quantile is the fraction of the cohort PRUNED (spec.md §6),
	// so the promoted fraction is its complement.
	cohortQuantile := opts.CohortQuantile
	if cohortQuantile < 0 {
		cohortQuantile = 0
	}
	if cohortQuantile > 1 {
		cohortQuantile = 1
	}
	cutoffIdx := int(float64(len(sorted)) * (1 - cohortQuantile))
	// A rung-0 floor of at least one keeps a lone seed alive to race
	// again; past rung 0 there is no such floor (spec.md §8 Boundary:
	// "cohort of size 1 at a rung r>0 -> promoted iff uplift >=
	// eps_improve"), so a zero-quantile cutoff there must rely solely on
	// the uplift exception below rather than promoting the top racer by
	// floor.
	if cutoffIdx < 1 && rung.Index == 0 {
		cutoffIdx = 1
	}
	if cutoffIdx < 0 {
		cutoffIdx = 0
	}
	if cutoffIdx > len(sorted) {
		cutoffIdx = len(sorted)
	}
	promotedByQuantile := make(map[int]bool, cutoffIdx)
	for _, idx := range sorted[:cutoffIdx] {
		promotedByQuantile[idx] = true
	}

	isTopRung := rung.Fraction >= 1.0
	for _, idx := range live {
		o := outcomes[idx]
		r := racers[idx]
		// The eps_improve exception only applies past rung 0 (spec.md
		// §8): a rung-0 admit's ParentPriorMean is the Racer zero-value,
		// not a real prior-rung mean, so testing it here would promote
		// almost every rung-0 candidate regardless of quantile standing.
		upliftPromoted := rung.Index > 0 && o.PromoScore-r.ParentPriorMean >= opts.EpsImprove
		promoted := promotedByQuantile[idx] || upliftPromoted
		switch {
		case !promoted:
			outcomes[idx].State = StatePruned
		case isTopRung:
			outcomes[idx].State = StateFullyEvaluated
		default:
			outcomes[idx].State = StatePromoted
		}
	}
	return outcomes
}

// lessRankedHigher orders a before b when a ranks ahead in the
// promotion cutoff: higher promote objective, then higher neg_cost,
// then lexicographically smaller fingerprint (spec.md §4.5 tie-break).
func lessRankedHigher(a, b Outcome) bool {
	if a.PromoScore != b.PromoScore {
		return a.PromoScore > b.PromoScore
	}
	negA, negB := a.Shard.Means[gepacore.ObjNegCost], b.Shard.Means[gepacore.ObjNegCost]
	if negA != negB {
		return negA > negB
	}
	return a.Candidate.Fingerprint < b.Candidate.Fingerprint
}
