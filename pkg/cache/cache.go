// Package cache implements the persistent evaluation-result cache
// (spec.md §4.2) plus a side-store for resumable orchestrator state
// (SPEC_FULL item 3). Grounded on dspy-go/pkg/cache's Cache-interface
// factory shape and original_source/cache.py's DiskCache (sharded
// directory by hash prefix, atomic durable-name-wins writes,
// corrupt-file-is-a-miss).
package cache

import (
	"sync/atomic"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// Cache is the persistent mapping from evaluation key to
// EvaluationResult (spec.md §4.2).
type Cache interface {
	// Get performs a pure lookup; no I/O beyond the backing store.
	Get(key string) (gepacore.EvaluationResult, bool, error)
	// Put writes exactly once per key. A second put with an unequal
	// value is rejected; equal re-puts are no-ops.
	Put(key string, result gepacore.EvaluationResult) error
	// WarmRate returns hits / (hits+misses) since process start.
	WarmRate() float64
	Close() error
}

// Stats exposes the raw hit/miss counters backing WarmRate, useful for
// the Orchestrator's `summary` event (spec.md §6).
type Stats struct {
	Hits   int64
	Misses int64
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) warmRate() float64 {
	h := c.hits.Load()
	m := c.misses.Load()
	total := h + m
	if total == 0 {
		return 0
	}
	return float64(h) / float64(total)
}

func (c *counters) stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
