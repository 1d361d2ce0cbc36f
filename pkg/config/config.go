// Package config defines turbo-gepa's configuration surface (spec.md
// §6) plus the SPEC_FULL StopGovernor knobs, loaded from YAML and
// validated with struct tags — the same split the teacher's
// pkg/config/manager.go uses for its (much larger) provider config.
package config

import (
	"github.com/go-playground/validator/v10"
)

// Config is the full recognized option surface. Field names map to the
// snake_case keys spec.md §6 lists via the yaml tag.
type Config struct {
	EvalConcurrency int       `yaml:"eval_concurrency" validate:"gt=0"`
	NIslands        int       `yaml:"n_islands" validate:"gt=0"`
	Shards          []float64 `yaml:"shards" validate:"required,dive,gt=0,lte=1"`
	EpsImprove      float64   `yaml:"eps_improve" validate:"gte=0"`
	// CohortQuantile is the fraction of each cohort PRUNED at a rung,
	// not the fraction promoted (spec.md §6).
	CohortQuantile float64 `yaml:"cohort_quantile" validate:"gt=0,lte=1"`

	QDBinsLength  int      `yaml:"qd_bins_length" validate:"gt=0"`
	QDBinsBullets int      `yaml:"qd_bins_bullets" validate:"gt=0"`
	QDFlags       []string `yaml:"qd_flags" validate:"required"`

	AmortizedRate        float64 `yaml:"amortized_rate" validate:"gte=0,lte=1"`
	ReflectionBatchSize  int     `yaml:"reflection_batch_size" validate:"gt=0"`
	MaxMutationsPerRound int     `yaml:"max_mutations_per_round" validate:"gt=0"`

	MergePeriod    int     `yaml:"merge_period" validate:"gt=0"`
	MergeUpliftMin float64 `yaml:"merge_uplift_min" validate:"gte=0"`

	MaxTokens                int     `yaml:"max_tokens" validate:"gt=0"`
	PruneDelta               float64 `yaml:"prune_delta" validate:"gte=0"`
	CompressionShardFraction float64 `yaml:"compression_shard_fraction" validate:"gt=0,lte=1"`

	MigrationPeriod int `yaml:"migration_period" validate:"gt=0"`
	MigrationK      int `yaml:"migration_k" validate:"gt=0"`

	CachePath          string `yaml:"cache_path" validate:"required"`
	LogPath            string `yaml:"log_path" validate:"required"`
	LogSummaryInterval int    `yaml:"log_summary_interval" validate:"gt=0"`

	BatchSize  int `yaml:"batch_size" validate:"gt=0"`
	QueueLimit int `yaml:"queue_limit" validate:"gt=0"`

	PromoteObjective     string `yaml:"promote_objective" validate:"required"`
	CompressionObjective string `yaml:"compression_objective" validate:"required"`

	// FailureThreshold and MaxRetries are named in spec.md §3/§4.4 but
	// carry no default in §6's table; SPEC_FULL fixes that gap.
	FailureThreshold float64 `yaml:"failure_threshold"`
	MaxRetries       int     `yaml:"max_retries" validate:"gt=0"`
	RetryBaseDelayMS int     `yaml:"retry_base_delay_ms" validate:"gt=0"`

	// MaxRounds and MaxEvaluations govern §4.10's termination condition;
	// spec.md §6's table omits them from the option list even though
	// §4.10 requires both.
	MaxRounds      int `yaml:"max_rounds" validate:"gt=0"`
	MaxEvaluations int `yaml:"max_evaluations" validate:"gt=0"`

	// AutoStop enables the SPEC_FULL StopGovernor as an additional,
	// earlier-firing termination condition alongside MaxRounds/MaxEvaluations.
	AutoStop     bool               `yaml:"auto_stop"`
	StopGovernor StopGovernorConfig `yaml:"stop_governor"`
}

// StopGovernorConfig mirrors original_source/stop_governor.py's
// StopGovernorConfig (SPEC_FULL item 1).
type StopGovernorConfig struct {
	Alpha                  float64 `yaml:"alpha" validate:"gt=0,lte=1"`
	HysteresisWindow       int     `yaml:"hysteresis_window" validate:"gt=0"`
	StopThreshold          float64 `yaml:"stop_threshold" validate:"gte=0,lte=1"`
	TauHV                  float64 `yaml:"tau_hv"`
	TauQuality             float64 `yaml:"tau_quality"`
	TauQualityRelative     float64 `yaml:"tau_quality_relative"`
	MaxNoImprovementEpochs int     `yaml:"max_no_improvement_epochs" validate:"gt=0"`
}

// Default returns the spec.md §6 defaults (parenthesized values),
// filled out with the SPEC_FULL additions above.
func Default() *Config {
	return &Config{
		EvalConcurrency:          64,
		NIslands:                 4,
		Shards:                   []float64{0.05, 0.2, 1.0},
		EpsImprove:               0.01,
		CohortQuantile:           0.6,
		QDBinsLength:             8,
		QDBinsBullets:            6,
		QDFlags:                  []string{"has_examples", "has_constraints", "has_format_spec"},
		AmortizedRate:            0.8,
		ReflectionBatchSize:      6,
		MaxMutationsPerRound:     16,
		MergePeriod:              3,
		MergeUpliftMin:           0.01,
		MaxTokens:                2048,
		PruneDelta:               0.005,
		CompressionShardFraction: 0.2,
		MigrationPeriod:          2,
		MigrationK:               3,
		CachePath:                "./gepa-cache",
		LogPath:                  "./gepa-logs",
		LogSummaryInterval:       10,
		BatchSize:                8,
		QueueLimit:               128,
		PromoteObjective:         "quality",
		CompressionObjective:     "quality",
		FailureThreshold:         0.0,
		MaxRetries:               3,
		RetryBaseDelayMS:         200,
		MaxRounds:                100,
		MaxEvaluations:           100000,
		AutoStop:                 false,
		StopGovernor: StopGovernorConfig{
			Alpha:                  0.3,
			HysteresisWindow:       5,
			StopThreshold:          0.15,
			TauHV:                  1e-5,
			TauQuality:             1e-3,
			TauQualityRelative:     0.01,
			MaxNoImprovementEpochs: 12,
		},
	}
}

// Validate checks struct tags via go-playground/validator, matching the
// teacher's pkg/config validation style.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
