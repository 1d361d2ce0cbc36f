// Package gepacore holds the data model shared across turbo-gepa's
// components (Candidate, EvaluationResult, ShardResult, Rung) and the
// fixed-interface external collaborators the core depends on but does
// not implement: the task oracle, the reflection oracle, and the
// dataset iterator (spec.md §1, §6).
package gepacore

import "context"

// Origin tags how a Candidate came into being (spec.md §3).
type Origin string

const (
	OriginSeed        Origin = "seed"
	OriginRuleEdit    Origin = "rule-edit"
	OriginReflection  Origin = "reflection"
	OriginMerge       Origin = "merge"
	OriginCompression Origin = "compression"
	OriginMigrant     Origin = "migrant"
)

// Candidate is an immutable unit of optimization. Its Fingerprint is
// computed by pkg/fingerprint and is its sole identity across Cache,
// Archive, and Migration (spec.md §4.1).
type Candidate struct {
	Text          string
	Fingerprint   string
	Parents       []string
	Origin        Origin
	TokenEstimate int
}

// Objective names required on every EvaluationResult (spec.md §3).
const (
	ObjQuality = "quality"
	ObjNegCost = "neg_cost"
	ObjTokens  = "tokens"
)

// Trace is the payload a task oracle attaches to an EvaluationResult
// for later use by the reflection oracle. SPEC_FULL adopts the original
// implementation's lean shape as a typed struct: the Cache stores it
// JSON-encoded inside each result, the Orchestrator reads ExampleID for
// the Sampler's hardness set, and the Mutator passes traces to the
// reflection oracle. Archive and Scheduler do not look inside it.
type Trace struct {
	ExampleID      string  `json:"example_id"`
	Quality        float64 `json:"quality"`
	Tokens         float64 `json:"tokens,omitempty"`
	Input          string  `json:"input,omitempty"`
	ExpectedAnswer string  `json:"expected_answer,omitempty"`
	Output         string  `json:"output,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// MaxTraceFieldLen caps the Error message of the synthetic trace the
// Evaluator builds for a structural failure. Input, ExpectedAnswer and
// Output are kept as the oracle returns them, with no length cap.
const MaxTraceFieldLen = 2048

// EvaluationResult is produced by the task oracle for one
// (candidate, example) pair (spec.md §3).
type EvaluationResult struct {
	Objectives map[string]float64
	Trace      *Trace
	Failure    bool
}

// DefaultFailureThreshold is the quality below which a result marks a
// structural failure (spec.md §3). Overridable via config.
const DefaultFailureThreshold = 0.0

// ShardResult aggregates EvaluationResults for one candidate across one
// shard (spec.md §3). Written once, never mutated.
type ShardResult struct {
	Means           map[string]float64
	Count           int
	FailureTraces   []*Trace
	Duration        float64 // seconds
	StructuralFail  bool
	ExampleIDs      []string
}

// MaxFailureTraces bounds ShardResult.FailureTraces (spec.md §3:
// "bounded").
const MaxFailureTraces = 16

// Rung is one step of the successive-halving ladder (spec.md §3).
type Rung struct {
	Index             int
	Fraction          float64
	ExampleIDs        []string
	PromotionQuantile float64
	EpsImprove        float64
}

// Example is one dataset row. Payload is opaque to the core (spec.md
// §6); only the task oracle interprets it.
type Example struct {
	ID      string
	Payload interface{}
}

// DatasetIterator enumerates example IDs and payloads in a finite,
// stable order (spec.md §6). Grounded on
// dspy-go/pkg/core.Dataset's Next/Reset shape.
type DatasetIterator interface {
	Next() (Example, bool)
	Reset()
	Len() int
}

// OracleErrorKind distinguishes transient from permanent oracle failure
// (spec.md §6, §7).
type OracleErrorKind int

const (
	OracleErrorPermanent OracleErrorKind = iota
	OracleErrorTransient
)

// OracleError is returned by TaskOracle.Score on failure.
type OracleError struct {
	Kind OracleErrorKind
	Err  error
}

func (e *OracleError) Error() string { return e.Err.Error() }
func (e *OracleError) Unwrap() error { return e.Err }

// TaskOracle scores one (candidate, example) pair (spec.md §6).
type TaskOracle interface {
	Score(ctx context.Context, candidateText string, payload interface{}) (EvaluationResult, error)
}

// ReflectionOracle proposes new candidate texts from a parent's failure
// traces (spec.md §6). May return an empty slice; must not panic on
// input it cannot handle.
type ReflectionOracle interface {
	Reflect(ctx context.Context, parentText string, traces []*Trace) ([]string, error)
}
