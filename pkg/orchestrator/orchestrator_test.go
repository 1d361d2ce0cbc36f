package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Studio-Intrinsic/turbo-gepa/internal/testutil"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/cache"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/config"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/eventlog"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/fingerprint"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.EvalConcurrency = 4
	cfg.Shards = []float64{0.5, 1.0}
	cfg.MaxMutationsPerRound = 3
	cfg.ReflectionBatchSize = 4
	cfg.MergePeriod = 2
	cfg.MigrationPeriod = 2
	cfg.MigrationK = 1
	cfg.LogSummaryInterval = 2
	cfg.MaxRounds = 4
	cfg.MaxEvaluations = 100000
	cfg.CohortQuantile = 0.6
	cfg.CompressionShardFraction = 0.5
	return cfg
}

func seedCandidate(text string) gepacore.Candidate {
	return gepacore.Candidate{Text: text, Fingerprint: fingerprint.Candidate(text), Origin: gepacore.OriginSeed}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, quality map[string]float64) *Orchestrator {
	t.Helper()
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	ids := make([]string, 0, len(quality))
	for id := range quality {
		ids = append(ids, id)
	}
	oracle := testutil.QualityByID(quality)
	reflection := testutil.NewReflectionOracle([]string{"Instructions:\nDo the task well.\n\nBe precise."})

	return New(Deps{
		IslandID:         0,
		NIslands:         1,
		Config:           cfg,
		Cache:            c,
		EventLog:         log,
		TaskOracle:       oracle,
		ReflectionOracle: reflection,
		Dataset:          testutil.IDsOnly(ids),
		Seed:             42,
		Seeds:            []gepacore.Candidate{seedCandidate("Task:\nAnswer the question directly.\n\nBe concise.")},
	})
}

func manyExamples(n int, quality float64) map[string]float64 {
	out := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		out[string(rune('a'+i%26))+string(rune('0'+i/26))] = quality
	}
	return out
}

func TestRunRoundAdvancesSeedThroughRungsIntoArchive(t *testing.T) {
	cfg := smallConfig()
	quality := manyExamples(20, 0.9)
	o := newTestOrchestrator(t, cfg, quality)

	for i := 0; i < 3; i++ {
		require.NoError(t, o.RunRound(context.Background()))
	}

	assert.Positive(t, len(o.Archive().ParetoCandidates()), "the high-quality seed should reach the top rung and enter the archive")
	assert.Positive(t, o.Evaluations())
}

func TestRunRoundPrunesLowQualitySeedBeforeArchiving(t *testing.T) {
	cfg := smallConfig()
	cfg.FailureThreshold = 0.5 // quality 0.0 below threshold marks every result a structural failure
	quality := manyExamples(20, 0.0)
	o := newTestOrchestrator(t, cfg, quality)

	for i := 0; i < 3; i++ {
		require.NoError(t, o.RunRound(context.Background()))
	}

	assert.Empty(t, o.Archive().ParetoCandidates(), "a candidate that fails every example should never reach the archive")
}

func TestRunProducesNoNewEvaluationsOnRerunWithWarmCacheAndNoMutations(t *testing.T) {
	cfg := smallConfig()
	cfg.AmortizedRate = 0 // force the reflection path; the fake reflection oracle below returns no offspring
	quality := manyExamples(20, 0.9)

	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer log.Close()

	ids := make([]string, 0, len(quality))
	for id := range quality {
		ids = append(ids, id)
	}
	oracle := testutil.QualityByID(quality)
	seed := seedCandidate("A fixed prompt that never mutates because reflection is disabled below.")

	build := func() *Orchestrator {
		return New(Deps{
			IslandID:         0,
			NIslands:         1,
			Config:           cfg,
			Cache:            c,
			EventLog:         log,
			TaskOracle:       oracle,
			ReflectionOracle: testutil.NewReflectionOracle(nil), // no offspring
			Dataset:          testutil.IDsOnly(ids),
			Seed:             1,
			Seeds:            []gepacore.Candidate{seed},
		})
	}

	first := build()
	require.NoError(t, first.RunRound(context.Background()))
	require.NoError(t, first.RunRound(context.Background()))
	require.Positive(t, first.Evaluations())
	callsAfterFirst := oracle.Calls

	// A second orchestrator racing the exact same seed on the exact same
	// (island, round) sampling schedule against the same warm cache
	// should resolve every (candidate, example) pair from the cache and
	// never invoke the oracle again.
	second := build()
	require.NoError(t, second.RunRound(context.Background()))
	require.NoError(t, second.RunRound(context.Background()))
	assert.Equal(t, callsAfterFirst, oracle.Calls, "a warm-cache rerun with no mutations must make zero new oracle calls")
}

func TestArchiveEntriesCompletedTheTopRung(t *testing.T) {
	cfg := smallConfig()
	quality := manyExamples(20, 0.9)
	o := newTestOrchestrator(t, cfg, quality)

	for i := 0; i < 3; i++ {
		require.NoError(t, o.RunRound(context.Background()))
	}

	for _, e := range o.Archive().ParetoCandidates() {
		shard := o.lastShard[e.Candidate.Fingerprint]
		assert.False(t, shard.StructuralFail)
	}
}

func TestMigrationDedupAdmitsEachFingerprintOnce(t *testing.T) {
	tr := migration.NewChanTransport(2, 8)
	elite := seedCandidate("A shared elite prompt.")
	tr.Send(0, migration.Migrant{Candidate: elite, Objectives: map[string]float64{gepacore.ObjQuality: 0.9}})

	cfg := smallConfig()
	quality := manyExamples(10, 0.9)
	ids := make([]string, 0, len(quality))
	for id := range quality {
		ids = append(ids, id)
	}
	c, err := cache.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer log.Close()

	o := New(Deps{
		IslandID:         1,
		NIslands:         2,
		Config:           cfg,
		Cache:            c,
		EventLog:         log,
		TaskOracle:       testutil.QualityByID(quality),
		ReflectionOracle: testutil.NewReflectionOracle(nil),
		Dataset:          testutil.IDsOnly(ids),
		Transport:        tr,
		Seed:             7,
	})

	require.NoError(t, o.RunRound(context.Background()))
	assert.True(t, o.seen.Contains(elite.Fingerprint))

	// A second migrant with the same fingerprint arriving later must not
	// be re-admitted.
	tr.Send(0, migration.Migrant{Candidate: elite, Objectives: map[string]float64{gepacore.ObjQuality: 0.9}})
	before := o.Evaluations()
	require.NoError(t, o.RunRound(context.Background()))
	// The duplicate migrant contributes no additional rung-0 racer, so
	// evaluations only grow from whatever cohort was already in flight,
	// never from a second copy of the elite racing from scratch.
	assert.GreaterOrEqual(t, o.Evaluations(), before)
}

func TestPollConfigReloadAppliesMatchingShardCount(t *testing.T) {
	cfg := smallConfig()
	quality := manyExamples(5, 0.5)
	o := newTestOrchestrator(t, cfg, quality)

	updates := make(chan *config.Config, 1)
	o.cfgUpdates = updates

	reloaded := smallConfig()
	reloaded.MaxMutationsPerRound = 99
	updates <- reloaded

	o.pollConfigReload()
	assert.Equal(t, 99, o.cfg.MaxMutationsPerRound)
}

func TestPollConfigReloadDropsMismatchedShardCount(t *testing.T) {
	cfg := smallConfig()
	quality := manyExamples(5, 0.5)
	o := newTestOrchestrator(t, cfg, quality)
	before := o.cfg

	updates := make(chan *config.Config, 1)
	o.cfgUpdates = updates

	reloaded := smallConfig()
	reloaded.Shards = []float64{0.25, 0.5, 1.0} // different ladder length than rungQueues
	updates <- reloaded

	o.pollConfigReload()
	assert.Same(t, before, o.cfg, "a reload that changes the shard ladder length must be dropped")
}

func TestRunTerminatesAtMaxRounds(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxRounds = 2
	quality := manyExamples(10, 0.5)
	o := newTestOrchestrator(t, cfg, quality)

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 2, o.Round())
}
