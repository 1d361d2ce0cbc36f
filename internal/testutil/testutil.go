// Package testutil provides deterministic fakes for the external
// oracles and dataset iterator described in spec.md §6, shared across
// the evaluator, scheduler, mutator, and orchestrator test suites.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// ScoreFunc computes the objectives for an example, given the
// candidate text. Returning a non-nil error models an oracle failure.
type ScoreFunc func(candidateText string, exampleID string) (gepacore.EvaluationResult, error)

// TaskOracle is a deterministic, in-memory gepacore.TaskOracle.
type TaskOracle struct {
	mu sync.Mutex

	score ScoreFunc

	// FailTransientTimes, keyed by example ID, is decremented on each
	// call; while > 0 the call returns a transient OracleError instead
	// of invoking score.
	FailTransientTimes map[string]int

	// PermanentFailures marks example IDs that always fail permanently.
	PermanentFailures map[string]bool

	Calls int
}

// NewTaskOracle wraps score as a TaskOracle.
func NewTaskOracle(score ScoreFunc) *TaskOracle {
	return &TaskOracle{
		score:              score,
		FailTransientTimes: map[string]int{},
		PermanentFailures:  map[string]bool{},
	}
}

func (o *TaskOracle) Score(ctx context.Context, candidateText string, payload interface{}) (gepacore.EvaluationResult, error) {
	id, _ := payload.(string)

	o.mu.Lock()
	o.Calls++
	if o.PermanentFailures[id] {
		o.mu.Unlock()
		return gepacore.EvaluationResult{}, &gepacore.OracleError{Kind: gepacore.OracleErrorPermanent, Err: fmt.Errorf("permanent failure on %s", id)}
	}
	if n := o.FailTransientTimes[id]; n > 0 {
		o.FailTransientTimes[id] = n - 1
		o.mu.Unlock()
		return gepacore.EvaluationResult{}, &gepacore.OracleError{Kind: gepacore.OracleErrorTransient, Err: fmt.Errorf("transient failure on %s", id)}
	}
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return gepacore.EvaluationResult{}, ctx.Err()
	default:
	}
	return o.score(candidateText, id)
}

// QualityByID builds a TaskOracle whose quality objective is looked up
// by example ID, with a fixed neg_cost and tokens estimate.
func QualityByID(quality map[string]float64) *TaskOracle {
	return NewTaskOracle(func(candidateText, id string) (gepacore.EvaluationResult, error) {
		q := quality[id]
		return gepacore.EvaluationResult{
			Objectives: map[string]float64{
				gepacore.ObjQuality: q,
				gepacore.ObjNegCost: -1,
				gepacore.ObjTokens:  float64(len(candidateText)),
			},
			Trace: &gepacore.Trace{ExampleID: id, Quality: q, Output: candidateText},
		}, nil
	})
}

// ReflectionOracle is a scripted gepacore.ReflectionOracle.
type ReflectionOracle struct {
	mu       sync.Mutex
	Response []string
	Err      error
	Calls    int
	LastArgs struct {
		ParentText string
		Traces     []*gepacore.Trace
	}
}

func NewReflectionOracle(response []string) *ReflectionOracle {
	return &ReflectionOracle{Response: response}
}

func (r *ReflectionOracle) Reflect(ctx context.Context, parentText string, traces []*gepacore.Trace) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	r.LastArgs.ParentText = parentText
	r.LastArgs.Traces = traces
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Response, nil
}

// SliceIterator is an in-memory gepacore.DatasetIterator over a fixed,
// stably-ordered slice of examples.
type SliceIterator struct {
	examples []gepacore.Example
	pos      int
}

func NewSliceIterator(examples []gepacore.Example) *SliceIterator {
	return &SliceIterator{examples: examples}
}

// IDsOnly builds a SliceIterator whose payload is the example ID itself.
func IDsOnly(ids []string) *SliceIterator {
	examples := make([]gepacore.Example, len(ids))
	for i, id := range ids {
		examples[i] = gepacore.Example{ID: id, Payload: id}
	}
	return NewSliceIterator(examples)
}

func (s *SliceIterator) Next() (gepacore.Example, bool) {
	if s.pos >= len(s.examples) {
		return gepacore.Example{}, false
	}
	e := s.examples[s.pos]
	s.pos++
	return e, true
}

func (s *SliceIterator) Reset() { s.pos = 0 }

func (s *SliceIterator) Len() int { return len(s.examples) }

// IDs returns every example ID in order.
func (s *SliceIterator) IDs() []string {
	ids := make([]string, len(s.examples))
	for i, e := range s.examples {
		ids[i] = e.ID
	}
	return ids
}
