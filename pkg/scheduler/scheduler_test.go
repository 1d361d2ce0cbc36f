package scheduler

import (
	"context"
	"testing"

	"github.com/Studio-Intrinsic/turbo-gepa/internal/testutil"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/cache"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/evaluator"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, quality map[string]float64) *Scheduler {
	t.Helper()
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	oracle := testutil.QualityByID(quality)
	return New(evaluator.New(c, oracle))
}

func racerFor(text string, parentPrior float64) Racer {
	return Racer{
		Candidate:       gepacore.Candidate{Text: text, Fingerprint: fingerprint.Candidate(text)},
		ParentPriorMean: parentPrior,
	}
}

// qualityByText builds a fake oracle whose quality depends on the
// candidate text only, so racers scored on the same rung shard still get
// distinct means.
func qualityByText(quality map[string]float64) *testutil.TaskOracle {
	return testutil.NewTaskOracle(func(candidateText, id string) (gepacore.EvaluationResult, error) {
		return gepacore.EvaluationResult{Objectives: map[string]float64{
			gepacore.ObjQuality: quality[candidateText],
			gepacore.ObjNegCost: -1,
			gepacore.ObjTokens:  float64(len(candidateText)),
		}}, nil
	})
}

func TestRunRungPromotesTopQuantile(t *testing.T) {
	// Every racer is scored on the whole rung shard, so this fake oracle
	// keys quality on candidate text to control each racer's outcome.
	oracle := qualityByText(map[string]float64{
		"best":   1.0,
		"second": 0.8,
		"third":  0.4,
		"worst":  0.1,
	})
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	s := New(evaluator.New(c, oracle))

	racers := []Racer{
		racerFor("best", 0),
		racerFor("second", 0),
		racerFor("third", 0),
		racerFor("worst", 0),
	}
	rung := gepacore.Rung{Index: 0, Fraction: 0.2, ExampleIDs: []string{"best", "second", "third", "worst"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   0.5,
		EpsImprove:       0.5, // large enough that only the quantile rule promotes here
	})

	byText := map[string]Outcome{}
	for _, o := range outcomes {
		byText[o.Candidate.Text] = o
	}
	assert.Equal(t, StatePromoted, byText["best"].State)
	assert.Equal(t, StatePromoted, byText["second"].State)
	assert.Equal(t, StatePruned, byText["third"].State)
	assert.Equal(t, StatePruned, byText["worst"].State)
}

func TestRunRungEpsImproveExceptionPromotesBelowQuantile(t *testing.T) {
	oracle := qualityByText(map[string]float64{
		"best":  1.0,
		"riser": 0.5,
		"low":   0.1,
	})
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	s := New(evaluator.New(c, oracle))

	racers := []Racer{
		racerFor("best", 0.9),
		racerFor("riser", 0.1), // below quantile cutoff but uplift 0.4 >= eps 0.2
		racerFor("low", 0.1),
	}
	// The eps_improve exception only applies past rung 0 (spec.md §8),
	// since a rung-0 Racer's ParentPriorMean is a zero-value sentinel,
	// not a real prior-rung mean.
	rung := gepacore.Rung{Index: 1, Fraction: 0.2, ExampleIDs: []string{"best", "riser", "low"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   0.34, // only the top-1 promoted by quantile alone
		EpsImprove:       0.2,
	})

	byText := map[string]Outcome{}
	for _, o := range outcomes {
		byText[o.Candidate.Text] = o
	}
	assert.Equal(t, StatePromoted, byText["best"].State)
	assert.Equal(t, StatePromoted, byText["riser"].State, "eps_improve exception should promote riser despite missing the quantile cutoff")
	assert.Equal(t, StatePruned, byText["low"].State)
}

func TestRunRungCohortQuantileIsTheFractionPruned(t *testing.T) {
	// spec.md §6/§8.3: cohort_quantile is the fraction of the cohort
	// PRUNED, not promoted. With 50 racers and cohort_quantile=0.6,
	// at most 20 (= (1-0.6)*50) may be promoted out of rung 0.
	const n = 50
	quality := make(map[string]float64, n)
	ids := make([]string, n)
	racers := make([]Racer, n)
	for i := 0; i < n; i++ {
		id := string(rune('a'+i%26)) + string(rune('A'+i/26))
		ids[i] = id
		quality[id] = 1.0 - float64(i)*0.01
		racers[i] = racerFor(id, 0)
	}
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	s := New(evaluator.New(c, testutil.QualityByID(quality)))
	rung := gepacore.Rung{Index: 0, Fraction: 0.2, ExampleIDs: ids}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   0.6,
		EpsImprove:       0.5, // large enough that no rung-0 racer trips the (disabled) uplift exception
	})

	promoted := 0
	for _, o := range outcomes {
		if o.State == StatePromoted || o.State == StateFullyEvaluated {
			promoted++
		}
	}
	assert.LessOrEqual(t, promoted, 20)
	assert.Equal(t, 20, promoted)
}

func TestRunRungSingletonCohortPastRungZeroPrunedWithoutUplift(t *testing.T) {
	// spec.md §8 Boundary: "cohort of size 1 at a rung r>0 -> promoted
	// iff uplift >= eps_improve." A singleton whose parent-relative gain
	// falls short must be pruned, not kept alive by the rung-0 floor.
	s := newScheduler(t, map[string]float64{"a": 0.5})
	racers := []Racer{racerFor("a", 0.49)} // uplift 0.01 < eps 0.5
	rung := gepacore.Rung{Index: 1, Fraction: 0.5, ExampleIDs: []string{"a"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   1.0,
		EpsImprove:       0.5,
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatePruned, outcomes[0].State)
}

func TestRunRungSingletonCohortAtRungZeroAlwaysAdvances(t *testing.T) {
	// A lone rung-0 seed has no uplift to test against (ParentPriorMean
	// is the zero-value sentinel), so it must still advance regardless
	// of cohort_quantile.
	s := newScheduler(t, map[string]float64{"a": 0.1})
	racers := []Racer{racerFor("a", 0)}
	rung := gepacore.Rung{Index: 0, Fraction: 0.2, ExampleIDs: []string{"a"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   1.0,
		EpsImprove:       0.5,
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatePromoted, outcomes[0].State)
}

func TestRunRungStructuralFailurePrunedImmediately(t *testing.T) {
	oracle := testutil.QualityByID(map[string]float64{"ok": 0.9})
	oracle.PermanentFailures["bad"] = true
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	s := New(evaluator.New(c, oracle))

	racers := []Racer{racerFor("ok", 0), racerFor("bad", 0)}
	rung := gepacore.Rung{Index: 0, Fraction: 0.2, ExampleIDs: []string{"ok", "bad"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   1.0,
		EpsImprove:       0.01,
	})
	byText := map[string]Outcome{}
	for _, o := range outcomes {
		byText[o.Candidate.Text] = o
	}
	assert.Equal(t, StatePruned, byText["bad"].State)
}

func TestRunRungTopRungYieldsFullyEvaluated(t *testing.T) {
	s := newScheduler(t, map[string]float64{"a": 0.9})
	racers := []Racer{racerFor("a", 0)}
	rung := gepacore.Rung{Index: 2, Fraction: 1.0, ExampleIDs: []string{"a"}}

	outcomes := s.RunRung(context.Background(), rung, racers, Options{
		PromoteObjective: gepacore.ObjQuality,
		CohortQuantile:   1.0,
		EpsImprove:       0.01,
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StateFullyEvaluated, outcomes[0].State)
}

func TestRunRungEmptyCohort(t *testing.T) {
	s := newScheduler(t, nil)
	outcomes := s.RunRung(context.Background(), gepacore.Rung{Fraction: 0.2}, nil, Options{})
	assert.Nil(t, outcomes)
}
