// Package eventlog implements the append-only JSON-Lines event stream
// spec.md §6 requires (eval_start, eval_done, promote, archive_update,
// mutation_proposed, mutation_accepted, merge_proposed, merge_accepted,
// merge_rejected, compression_applied, migrate_out, migrate_in,
// summary). Grounded on dspy-go/pkg/logging's Logger/Output split; each
// event is one write to a file opened in append mode, with no retry.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the event kinds named in spec.md §6.
type Kind string

const (
	KindEvalStart          Kind = "eval_start"
	KindEvalDone           Kind = "eval_done"
	KindPromote            Kind = "promote"
	KindArchiveUpdate      Kind = "archive_update"
	KindMutationProposed   Kind = "mutation_proposed"
	KindMutationAccepted   Kind = "mutation_accepted"
	KindMergeProposed      Kind = "merge_proposed"
	KindMergeAccepted      Kind = "merge_accepted"
	KindMergeRejected      Kind = "merge_rejected"
	KindCompressionApplied Kind = "compression_applied"
	KindMigrateOut         Kind = "migrate_out"
	KindMigrateIn          Kind = "migrate_in"
	KindSummary            Kind = "summary"
)

// Event is one JSON-Lines record. Fields is kind-specific payload.
type Event struct {
	EventID string                 `json:"event_id"`
	TS      int64                  `json:"ts"`
	Island  int                    `json:"island"`
	Round   int                    `json:"round"`
	Kind    Kind                   `json:"kind"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// SummaryFields is the required payload shape for a `summary` event
// (spec.md §6): pending queue depth, Pareto size, QD populated-bin
// count, total evaluations, cache hit rate, per-objective statistics.
type SummaryFields struct {
	PendingQueueDepth int                        `json:"pending_queue_depth"`
	ParetoSize        int                        `json:"pareto_size"`
	QDPopulatedBins   int                        `json:"qd_populated_bins"`
	TotalEvaluations  int                        `json:"total_evaluations"`
	CacheHitRate      float64                    `json:"cache_hit_rate"`
	ObjectiveStats    map[string]ObjectiveStats  `json:"objective_stats"`
}

// ObjectiveStats carries min/max/mean/median for one objective.
type ObjectiveStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Log writes Events to an append-only file, one JSON object per line.
// Safe for concurrent Emit calls (evaluator goroutines report
// eval_start/eval_done while the single orchestrator goroutine reports
// everything else).
type Log struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Open creates (or appends to) the JSONL file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Log{file: f, now: time.Now}, nil
}

// Emit appends one event. Marshal errors are not expected (Fields must
// be JSON-serializable) but are surfaced rather than silently dropped,
// since a lost event undermines the audit trail the stream exists for.
func (l *Log) Emit(island, round int, kind Kind, fields map[string]interface{}) error {
	ev := Event{
		EventID: uuid.NewString(),
		TS:      l.now().UnixNano(),
		Island:  island,
		Round:   round,
		Kind:    kind,
		Fields:  fields,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(data)
	return err
}

// EmitSummary is a typed convenience wrapper for the `summary` kind.
func (l *Log) EmitSummary(island, round int, s SummaryFields) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	return l.Emit(island, round, KindSummary, fields)
}

// Sync flushes to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close syncs and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.file.Sync()
	return l.file.Close()
}
