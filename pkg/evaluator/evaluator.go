// Package evaluator implements the bounded-concurrency oracle dispatch
// fabric described in spec.md §4.4: it resolves (candidate, example_id)
// scores through the Cache before ever calling the task oracle, retries
// transient oracle failures, and aggregates the results of one shard
// into a ShardResult with an exact (non-sampled) per-objective mean.
package evaluator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/cache"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/eventlog"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/sourcegraph/conc/pool"
)

const defaultRetryBaseDelay = 200 * time.Millisecond

// Options configures one Evaluate call.
type Options struct {
	Concurrency      int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	FailureThreshold float64
	ShardVersion     string

	// ParentTarget, when set, is the quality the candidate must still
	// be able to reach or beat; if the best achievable final mean drops
	// below it, remaining not-yet-started evaluations are abandoned
	// (SPEC_FULL item 2, grounded on original_source/evaluator.py's
	// parent_target early stop).
	ParentTarget *float64

	// EventLog, Island, and Round, if EventLog is non-nil, cause Evaluate
	// to emit an eval_start event before dispatch and an eval_done event
	// once the shard finishes (spec.md §6).
	EventLog *eventlog.Log
	Island   int
	Round    int
}

// Evaluator dispatches oracle calls for one candidate's shard.
type Evaluator struct {
	cache    cache.Cache
	oracle   gepacore.TaskOracle
	sleep    func(time.Duration)
	payloads map[string]interface{}
}

// New builds an Evaluator over c and oracle.
func New(c cache.Cache, oracle gepacore.TaskOracle) *Evaluator {
	return &Evaluator{cache: c, oracle: oracle, sleep: time.Sleep}
}

// WithPayloads attaches the dataset's example payloads (spec.md §6),
// keyed by example ID, so the oracle receives each example's actual
// payload rather than its bare ID. Without this, Evaluate falls back to
// passing the ID itself as the payload — enough for a fake that keys on
// ID (e.g. testutil.QualityByID) but not a real §6 oracle, which expects
// the example's payload. Returns the receiver for chaining onto New.
func (e *Evaluator) WithPayloads(payloads map[string]interface{}) *Evaluator {
	e.payloads = payloads
	return e
}

func (e *Evaluator) payloadFor(id string) interface{} {
	if p, ok := e.payloads[id]; ok {
		return p
	}
	return id
}

type outcome struct {
	id     string
	result gepacore.EvaluationResult
}

// Evaluate scores candidate on ids, consulting the cache first and
// dispatching cache misses to the oracle with at most opts.Concurrency
// in flight. It returns after every id has produced a result or been
// abandoned to early stop or cancellation (spec.md §4.4).
func (e *Evaluator) Evaluate(ctx context.Context, candidate gepacore.Candidate, ids []string, opts Options) gepacore.ShardResult {
	start := time.Now()
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	if opts.EventLog != nil {
		_ = opts.EventLog.Emit(opts.Island, opts.Round, eventlog.KindEvalStart, map[string]interface{}{
			"fingerprint": candidate.Fingerprint,
			"shard_size":  len(ids),
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithMaxGoroutines(concurrency)

	var (
		mu             sync.Mutex
		outcomes       []outcome
		completed      int
		runningQuality float64
		stopped        bool
	)
	total := len(ids)

	// register folds one finished result into the running aggregate,
	// deciding whether the parent-target early stop should fire. Once
	// the shard has stopped, later results are dropped.
	register := func(id string, result gepacore.EvaluationResult) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		outcomes = append(outcomes, outcome{id: id, result: result})
		completed++
		runningQuality += result.Objectives[gepacore.ObjQuality]
		if opts.ParentTarget != nil && total > 0 {
			remaining := total - completed
			bestPossible := (runningQuality + float64(remaining)) / float64(total)
			if bestPossible+1e-9 < *opts.ParentTarget {
				stopped = true
				cancel()
			}
		}
	}

	// A parent cancellation (round-level, per spec.md §4.4) should stop
	// new dispatch the same way an internal early stop does.
	go func() {
		<-runCtx.Done()
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()

	for _, id := range ids {
		mu.Lock()
		halt := stopped
		mu.Unlock()
		if halt {
			break
		}

		id := id
		key := fingerprint.EvalKey(candidate.Fingerprint, id, opts.ShardVersion)
		if cached, ok, err := e.cache.Get(key); err == nil && ok {
			register(id, cached)
			continue
		}

		p.Go(func() {
			mu.Lock()
			halt := stopped
			mu.Unlock()
			if halt {
				return
			}
			result := e.scoreWithRetry(runCtx, candidate, id, opts)
			if result == nil {
				return // canceled before or during the oracle call; nothing is cached
			}
			// The cache receives a durable write whenever an oracle call
			// returned a result or failed for a reason other than
			// cancellation, even if the shard discards the result
			// (spec.md §4.4: "results ... are discarded unless the
			// cache already wrote them").
			_ = e.cache.Put(key, *result)
			register(id, *result)
		})
	}
	p.Wait()

	shard := aggregate(outcomes, start)
	if opts.EventLog != nil {
		_ = opts.EventLog.Emit(opts.Island, opts.Round, eventlog.KindEvalDone, map[string]interface{}{
			"fingerprint":     candidate.Fingerprint,
			"count":           shard.Count,
			"structural_fail": shard.StructuralFail,
			"duration":        shard.Duration,
		})
	}
	return shard
}

func (e *Evaluator) scoreWithRetry(ctx context.Context, candidate gepacore.Candidate, id string, opts Options) *gepacore.EvaluationResult {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	delay := opts.RetryBaseDelay
	if delay <= 0 {
		delay = defaultRetryBaseDelay
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := e.oracle.Score(ctx, candidate.Text, e.payloadFor(id))
		if err == nil {
			return applyFailureThreshold(result, opts.FailureThreshold)
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil
		}

		var oe *gepacore.OracleError
		transient := errors.As(err, &oe) && oe.Kind == gepacore.OracleErrorTransient
		if !transient || attempt == maxRetries {
			break
		}
		e.sleep(delay)
		delay *= 2
	}
	return structuralFailure(id, lastErr)
}

func applyFailureThreshold(result gepacore.EvaluationResult, threshold float64) *gepacore.EvaluationResult {
	if q, ok := result.Objectives[gepacore.ObjQuality]; ok && q < threshold {
		result.Failure = true
	}
	return &result
}

func structuralFailure(id string, cause error) *gepacore.EvaluationResult {
	msg := "oracle exhausted retries"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > gepacore.MaxTraceFieldLen {
		msg = msg[:gepacore.MaxTraceFieldLen]
	}
	return &gepacore.EvaluationResult{
		Objectives: map[string]float64{gepacore.ObjQuality: 0, gepacore.ObjNegCost: 0, gepacore.ObjTokens: 0},
		Trace:      &gepacore.Trace{ExampleID: id, Quality: 0, Error: msg},
		Failure:    true,
	}
}

func aggregate(outcomes []outcome, start time.Time) gepacore.ShardResult {
	sums := map[string]float64{}
	var failureTraces []*gepacore.Trace
	structuralFail := false
	exampleIDs := make([]string, 0, len(outcomes))

	for _, o := range outcomes {
		exampleIDs = append(exampleIDs, o.id)
		for k, v := range o.result.Objectives {
			sums[k] += v
		}
		if o.result.Failure {
			structuralFail = true
			if o.result.Trace != nil && len(failureTraces) < gepacore.MaxFailureTraces {
				failureTraces = append(failureTraces, o.result.Trace)
			}
		}
	}

	means := make(map[string]float64, len(sums))
	count := len(outcomes)
	if count > 0 {
		for k, v := range sums {
			means[k] = v / float64(count)
		}
	}

	sort.Strings(exampleIDs)

	return gepacore.ShardResult{
		Means:          means,
		Count:          count,
		FailureTraces:  failureTraces,
		Duration:       time.Since(start).Seconds(),
		StructuralFail: structuralFail,
		ExampleIDs:     exampleIDs,
	}
}
