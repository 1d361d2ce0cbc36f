// Package tokencontroller proposes token-compressed variants of
// archived elites and validates them on a small shard before admitting
// them as new, separate archive entries (spec.md §4.8).
package tokencontroller

import (
	"context"
	"regexp"
	"strings"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/evaluator"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
)

// Options configures one Validate call.
type Options struct {
	CompressionShardFraction float64
	PruneDelta               float64
	CompressionObjective     string // spec.md §6 "compression_objective" (default "quality")
	EvalOptions              evaluator.Options
}

var redundantWhitespace = regexp.MustCompile(`[ \t]{2,}`)

// Controller proposes and validates compressed variants.
type Controller struct {
	eval *evaluator.Evaluator
}

// New builds a Controller over eval.
func New(eval *evaluator.Evaluator) *Controller {
	return &Controller{eval: eval}
}

// Propose builds the rule-shortened text for original without
// evaluating it (spec.md §4.8: "rule-based shortening").
func Propose(original gepacore.Candidate) gepacore.Candidate {
	text := shorten(original.Text)
	return gepacore.Candidate{
		Text:        text,
		Fingerprint: fingerprint.Candidate(text),
		Parents:     []string{original.Fingerprint},
		Origin:      gepacore.OriginCompression,
	}
}

// shorten drops filler phrases, collapses run-on whitespace, and trims
// redundant blank lines. It never changes ordering or meaning-bearing
// content.
func shorten(text string) string {
	fillers := []string{"please ", "kindly ", "in order to ", "it is important to note that "}
	lower := text
	for _, f := range fillers {
		lower = replaceCaseInsensitive(lower, f, "")
	}
	lower = redundantWhitespace.ReplaceAllString(lower, " ")

	lines := strings.Split(lower, "\n")
	var out []string
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

func replaceCaseInsensitive(s, old, repl string) string {
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(old))
	return re.ReplaceAllString(s, repl)
}

// Validate races candidate on ids and reports whether it should be
// accepted: its promotion-objective mean must be within PruneDelta of
// originalMean (spec.md §4.8: "accepted iff its promotion-objective
// mean is within prune_delta of the original on that shard").
func (c *Controller) Validate(ctx context.Context, candidate gepacore.Candidate, ids []string, originalMean float64, opts Options) (gepacore.ShardResult, bool) {
	obj := opts.CompressionObjective
	if obj == "" {
		obj = gepacore.ObjQuality
	}
	shard := c.eval.Evaluate(ctx, candidate, ids, opts.EvalOptions)
	if shard.StructuralFail {
		return shard, false
	}
	accepted := originalMean-shard.Means[obj] <= opts.PruneDelta
	return shard, accepted
}
