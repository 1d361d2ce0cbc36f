package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"

	turboerrors "github.com/Studio-Intrinsic/turbo-gepa/pkg/errors"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/google/uuid"
)

// DiskCache is a content-addressed, one-file-per-key evaluation cache.
// Keys are sharded into two-hex-character subdirectories to bound
// directory fan-out, matching original_source/cache.py's
// `_record_path`. Writes go to a uniquely-named temp file that is then
// hard-linked into place; Link fails with EEXIST if another writer got
// there first, giving "first durably-named wins" without ever
// truncating a value another process already committed (spec.md §4.2,
// §5's atomic-rename discipline).
type DiskCache struct {
	counters
	dir string
}

// NewDiskCache creates (if needed) dir and returns a DiskCache rooted
// there.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: create cache dir")
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) pathFor(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = key[:2]
	}
	return filepath.Join(c.dir, prefix, key+".json")
}

func (c *DiskCache) Get(key string) (gepacore.EvaluationResult, bool, error) {
	result, ok, err := c.readRaw(key)
	if err != nil {
		return gepacore.EvaluationResult{}, false, err
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return result, ok, nil
}

// readRaw is Get without hit/miss accounting, used internally by Put's
// conflict-resolution path so verifying an existing value doesn't
// pollute the WarmRate the Evaluator reports.
func (c *DiskCache) readRaw(key string) (gepacore.EvaluationResult, bool, error) {
	path := c.pathFor(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return gepacore.EvaluationResult{}, false, nil
		}
		return gepacore.EvaluationResult{}, false, err
	}
	var result gepacore.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupted file is treated as a miss and will be overwritten
		// on the next Put (spec.md §6, §7: CacheCorruption).
		_ = os.Remove(path)
		return gepacore.EvaluationResult{}, false, nil
	}
	return result, true, nil
}

// Put writes result under key exactly once. If key is already present
// with a value-equal result, Put is a no-op. If present with a
// different result, Put returns an InvariantViolation-coded error
// (spec.md §4.2: "must be rejected and logged"); callers log it and
// keep running rather than crash, since the cache itself is a
// best-effort optimization, not a source of truth for correctness.
func (c *DiskCache) Put(key string, result gepacore.EvaluationResult) error {
	path := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: create shard dir")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: marshal result")
	}

	tmpPath := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: write temp file")
	}
	defer os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup; Link below may already have consumed it

	if err := os.Link(tmpPath, path); err != nil {
		if !os.IsExist(err) {
			return turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: link temp into place")
		}
		// Someone else's write got there first durably; verify equality.
		existing, ok, getErr := c.readRaw(key)
		if getErr != nil {
			return getErr
		}
		if !ok {
			// Existing file vanished (or was corrupt) between Link and
			// Get; retry once by attempting the link again.
			if err := os.Link(tmpPath, path); err != nil {
				return turboerrors.Wrap(err, turboerrors.InvalidInput, "cache: retry link")
			}
			return nil
		}
		if !reflect.DeepEqual(existing, result) {
			return turboerrors.WithFields(
				turboerrors.New(turboerrors.InvariantViolation, "cache: put rejected, value differs from first write"),
				turboerrors.Fields{"key": key},
			)
		}
		return nil // equal re-put: no-op
	}
	return nil
}

func (c *DiskCache) WarmRate() float64 { return c.warmRate() }

func (c *DiskCache) Stats() Stats { return c.stats() }

func (c *DiskCache) Close() error { return nil }
