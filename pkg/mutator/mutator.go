// Package mutator produces offspring from parents drawn by the
// Orchestrator: rule-based edits, reflection-oracle proposals, and
// periodic merges of Pareto elites (spec.md §4.7).
package mutator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// Options configures one Propose call.
type Options struct {
	AmortizedRate       float64 // probability of a rule-based edit vs. reflection
	ReflectionBatchSize int
	Seed                int64
}

// Dedup is the set of fingerprints already present in the Cache and
// Archive; offspring colliding with it are dropped, not re-raced
// (spec.md §4.7).
type Dedup interface {
	Contains(fingerprint string) bool
}

// Mutator generates offspring candidates.
type Mutator struct {
	reflection gepacore.ReflectionOracle
}

// New builds a Mutator over the given reflection oracle.
func New(reflection gepacore.ReflectionOracle) *Mutator {
	return &Mutator{reflection: reflection}
}

// Propose draws one operator (rule-edit or reflection) per call,
// weighted by AmortizedRate, tags the offspring with parent and
// origin, and drops anything colliding by fingerprint with dedup.
func (m *Mutator) Propose(ctx context.Context, parent gepacore.Candidate, traces []*gepacore.Trace, opts Options, dedup Dedup) ([]gepacore.Candidate, error) {
	rng := rand.New(rand.NewSource(opts.Seed))

	var offspring []gepacore.Candidate
	if rng.Float64() < opts.AmortizedRate {
		offspring = m.ruleEdit(parent, rng)
	} else {
		texts, err := m.reflect(ctx, parent, traces, opts)
		if err != nil {
			return nil, err
		}
		offspring = wrap(texts, parent, gepacore.OriginReflection)
	}

	return dedupe(offspring, dedup), nil
}

func (m *Mutator) reflect(ctx context.Context, parent gepacore.Candidate, traces []*gepacore.Trace, opts Options) ([]string, error) {
	batch := traces
	batchSize := opts.ReflectionBatchSize
	if batchSize > 0 && len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	return m.reflection.Reflect(ctx, parent.Text, batch)
}

// ruleEdit applies one deterministic (given rng) transformation from a
// fixed library: trim, bulletize, reorder, header insertion (spec.md
// §4.7).
func (m *Mutator) ruleEdit(parent gepacore.Candidate, rng *rand.Rand) []gepacore.Candidate {
	ops := []func(string, *rand.Rand) string{trim, bulletize, reorderSentences, insertHeader}
	op := ops[rng.Intn(len(ops))]
	text := op(parent.Text, rng)
	if text == parent.Text {
		return nil
	}
	return wrap([]string{text}, parent, gepacore.OriginRuleEdit)
}

func wrap(texts []string, parent gepacore.Candidate, origin gepacore.Origin) []gepacore.Candidate {
	out := make([]gepacore.Candidate, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, gepacore.Candidate{
			Text:        t,
			Fingerprint: fingerprint.Candidate(t),
			Parents:     []string{parent.Fingerprint},
			Origin:      origin,
		})
	}
	return out
}

func dedupe(candidates []gepacore.Candidate, dedup Dedup) []gepacore.Candidate {
	if dedup == nil {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		if dedup.Contains(c.Fingerprint) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// trim drops a leading or trailing paragraph.
func trim(text string, rng *rand.Rand) string {
	paras := strings.Split(text, "\n\n")
	if len(paras) < 2 {
		return text
	}
	if rng.Intn(2) == 0 {
		return strings.Join(paras[1:], "\n\n")
	}
	return strings.Join(paras[:len(paras)-1], "\n\n")
}

// bulletize converts the ". "-separated sentences of the longest line
// into a bullet list.
func bulletize(text string, rng *rand.Rand) string {
	lines := strings.Split(text, "\n")
	longest := -1
	for i, l := range lines {
		if longest == -1 || len(l) > len(lines[longest]) {
			longest = i
		}
	}
	if longest == -1 {
		return text
	}
	clauses := strings.Split(lines[longest], ". ")
	if len(clauses) < 2 {
		return text
	}
	var b strings.Builder
	for _, c := range clauses {
		c = strings.TrimSpace(strings.TrimSuffix(c, "."))
		if c == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", c)
	}
	lines[longest] = strings.TrimRight(b.String(), "\n")
	return strings.Join(lines, "\n")
}

// reorderSentences swaps two adjacent lines, chosen deterministically
// by rng.
func reorderSentences(text string, rng *rand.Rand) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	i := rng.Intn(len(lines) - 1)
	lines[i], lines[i+1] = lines[i+1], lines[i]
	return strings.Join(lines, "\n")
}

// insertHeader prepends a directive header if one isn't already
// present.
func insertHeader(text string, rng *rand.Rand) string {
	headers := []string{"Instructions:", "Task:", "Guidelines:"}
	for _, h := range headers {
		if strings.HasPrefix(strings.TrimSpace(text), h) {
			return text
		}
	}
	return headers[rng.Intn(len(headers))] + "\n" + text
}

// Merge combines two Pareto elites into one candidate, accepted only if
// its caller-supplied top-shard quality exceeds the better parent's by
// at least mergeUpliftMin (spec.md §4.7). Merge itself only produces
// the candidate text; the Orchestrator races it and applies the
// acceptance gate.
func Merge(a, b gepacore.Candidate) gepacore.Candidate {
	text := interleaveParagraphs(a.Text, b.Text)
	return gepacore.Candidate{
		Text:        text,
		Fingerprint: fingerprint.Candidate(text),
		Parents:     []string{a.Fingerprint, b.Fingerprint},
		Origin:      gepacore.OriginMerge,
	}
}

// interleaveParagraphs alternates paragraphs from a and b, deduping
// consecutive duplicates.
func interleaveParagraphs(a, b string) string {
	pa := strings.Split(a, "\n\n")
	pb := strings.Split(b, "\n\n")
	var out []string
	max := len(pa)
	if len(pb) > max {
		max = len(pb)
	}
	for i := 0; i < max; i++ {
		if i < len(pa) && (len(out) == 0 || out[len(out)-1] != pa[i]) {
			out = append(out, pa[i])
		}
		if i < len(pb) && (len(out) == 0 || out[len(out)-1] != pb[i]) {
			out = append(out, pb[i])
		}
	}
	return strings.Join(out, "\n\n")
}

// AcceptMerge applies the merge acceptance gate: the merged candidate's
// quality on its validation shard must exceed the better of the two
// parents' quality by at least mergeUpliftMin.
func AcceptMerge(mergedQuality, parentAQuality, parentBQuality, mergeUpliftMin float64) bool {
	better := parentAQuality
	if parentBQuality > better {
		better = parentBQuality
	}
	return mergedQuality-better+1e-9 >= mergeUpliftMin
}
