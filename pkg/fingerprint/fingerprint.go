// Package fingerprint computes the stable content hashes that serve as
// the sole identity for Candidates and evaluation-cache keys across
// turbo-gepa (spec.md §4.1).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// normalizeText collapses internal whitespace runs and trims the ends,
// matching original_source/interfaces.py's Candidate.fingerprint
// normalization so two candidates that differ only in incidental
// whitespace still collide (deliberately: they are the same prompt).
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Candidate returns the 256-bit (hex-encoded, 64 char) content hash of
// a candidate's whitespace-normalized text. Per spec.md §3, identity is
// solely a function of text, so parents and origin are NOT hashed in;
// they are informational lineage only.
func Candidate(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// evalKeyPayload is the canonical structure hashed to form an
// evaluation key (spec.md §4.1: "hash over candidate fingerprint ∥
// example_id ∥ shard_version").
type evalKeyPayload struct {
	CandidateFingerprint string `json:"candidate_fingerprint"`
	ExampleID            string `json:"example_id"`
	ShardVersion         string `json:"shard_version"`
}

// EvalKey returns the evaluation-cache key for a (candidate, example,
// shard-version) triple. shardVersion lets a dataset revision or
// example-set change invalidate cached results without touching the
// candidate's own fingerprint.
func EvalKey(candidateFingerprint, exampleID, shardVersion string) string {
	payload := evalKeyPayload{
		CandidateFingerprint: candidateFingerprint,
		ExampleID:            exampleID,
		ShardVersion:         shardVersion,
	}
	// json.Marshal on a struct with fixed field order already produces
	// deterministic output, so no sorting is needed here.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StableSetKey returns a deterministic hash over an unordered set of
// example IDs, used to fingerprint a shard's example-set membership
// independent of selection order.
func StableSetKey(exampleIDs []string) string {
	sorted := append([]string(nil), exampleIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(sum[:])
}
