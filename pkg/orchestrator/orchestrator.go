// Package orchestrator drives one island's per-round loop: it drains
// migrants, draws parents from the Archive, requests offspring from the
// Mutator, races the resulting cohort through the Scheduler's rung
// ladder, folds FullyEvaluated candidates into the Archive, and
// periodically merges, compresses, migrates, and logs (spec.md §4.10).
package orchestrator

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/Studio-Intrinsic/turbo-gepa/pkg/archive"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/cache"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/config"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/eventlog"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/evaluator"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/gepacore"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/migration"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/mutator"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/sampler"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/scheduler"
	"github.com/Studio-Intrinsic/turbo-gepa/pkg/tokencontroller"
)

// Deps are the collaborators one Orchestrator instance wires together.
// All fields are required except StateStore, which disables resume
// when nil, Transport, which defaults to an in-process
// migration.ChanTransport sized to NIslands when nil, and
// ConfigManager, which disables hot reload when nil.
type Deps struct {
	IslandID         int
	NIslands         int
	Config           *config.Config
	Cache            cache.Cache
	StateStore       *cache.StateStore
	EventLog         *eventlog.Log
	TaskOracle       gepacore.TaskOracle
	ReflectionOracle gepacore.ReflectionOracle
	Dataset          gepacore.DatasetIterator
	Transport        migration.Transport
	Seed             int64

	// Seeds are the initial candidates admitted to rung 0 before the
	// first round runs. Every run needs at least one, since the Archive
	// — the only other source of parents — starts empty.
	Seeds []gepacore.Candidate

	// ConfigManager, if set, is watched for on-disk config edits; a
	// reload is applied at the next round boundary so a live edit never
	// lands mid-round (SPEC_FULL Configuration). Nil disables hot reload.
	ConfigManager *config.Manager
}

// Orchestrator owns one island's evolutionary loop.
type Orchestrator struct {
	deps Deps
	cfg  *config.Config

	sampler *sampler.Sampler
	eval    *evaluator.Evaluator
	sched   *scheduler.Scheduler
	arc     *archive.Archive
	mut     *mutator.Mutator
	tok     *tokencontroller.Controller
	mig     *migration.Manager
	stopGov *stopGovernor

	seen *SeenSet

	// rungQueues[i] holds racers admitted to rung i but not yet raced
	// this round; RunRound drains each into a Scheduler.RunRung call and
	// pushes survivors into rungQueues[i+1] for a later round, so a
	// candidate advances at most one rung per round (true asynchronous
	// successive halving, not a same-round cascade through the ladder).
	rungQueues [][]scheduler.Racer

	// lastShard remembers each fingerprint's most recent ShardResult, so
	// a parent's failure traces are available to the Mutator's
	// reflection path and a merge's parent qualities are available to
	// AcceptMerge without re-evaluating.
	lastShard map[string]gepacore.ShardResult

	round       int
	evaluations int

	cfgUpdates <-chan *config.Config
}

// New builds an Orchestrator from deps. It does not start racing until
// RunRound or Run is called.
func New(deps Deps) *Orchestrator {
	cfg := deps.Config
	transport := deps.Transport
	if transport == nil {
		n := deps.NIslands
		if n <= 0 {
			n = 1
		}
		transport = migration.NewChanTransport(n, cfg.QueueLimit)
	}

	allIDs, payloads := datasetIDsAndPayloads(deps.Dataset)
	hard := sampler.NewHardnessSet(deps.Seed)

	o := &Orchestrator{
		deps:      deps,
		cfg:       cfg,
		sampler:   sampler.New(allIDs, hard),
		eval:      evaluator.New(deps.Cache, deps.TaskOracle).WithPayloads(payloads),
		arc: archive.New(archive.Config{
			QDBinsLength:     cfg.QDBinsLength,
			QDBinsBullets:    cfg.QDBinsBullets,
			QDFlags:          cfg.QDFlags,
			PromoteObjective: cfg.PromoteObjective,
		}),
		mut:        mutator.New(deps.ReflectionOracle),
		seen:       NewSeenSet(),
		lastShard:  map[string]gepacore.ShardResult{},
		rungQueues: make([][]scheduler.Racer, len(cfg.Shards)),
	}
	o.sched = scheduler.New(o.eval)
	o.tok = tokencontroller.New(o.eval)
	o.mig = migration.NewManager(deps.IslandID, transport)
	if cfg.AutoStop {
		o.stopGov = newStopGovernor(cfg.StopGovernor)
	}
	for _, c := range deps.Seeds {
		if c.Origin == "" {
			c.Origin = gepacore.OriginSeed
		}
		o.seen.Add(c.Fingerprint)
		o.rungQueues[0] = append(o.rungQueues[0], scheduler.Racer{Candidate: c})
	}
	return o
}

// datasetIDsAndPayloads walks the dataset once, returning both the
// stable ID list the Sampler shards over and the ID -> payload map the
// Evaluator resolves each example against before calling the oracle
// (spec.md §6: the oracle scores a candidate against an example's
// payload, not its bare ID).
func datasetIDsAndPayloads(it gepacore.DatasetIterator) ([]string, map[string]interface{}) {
	if it == nil {
		return nil, nil
	}
	it.Reset()
	var ids []string
	payloads := map[string]interface{}{}
	for {
		ex, ok := it.Next()
		if !ok {
			break
		}
		ids = append(ids, ex.ID)
		payloads[ex.ID] = ex.Payload
	}
	it.Reset()
	return ids, payloads
}

// Resume restores round/evaluations counters from the StateStore, if
// one was configured and has a saved row for this island (SPEC_FULL
// item 3). Archived Pareto/QD membership is not restored: the
// StateStore records fingerprints only, and full candidate text — the
// sole identity Cache/Archive/Migration key off of — is not itself
// durable anywhere the Orchestrator can recover it from, so a resumed
// island starts its Archive empty and rebuilds it from scratch while
// picking the round/evaluation counters back up where they left off.
func (o *Orchestrator) Resume() error {
	if o.deps.StateStore == nil {
		return nil
	}
	state, ok, err := o.deps.StateStore.Load(o.deps.IslandID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	o.round = state.Round
	o.evaluations = state.Evaluations
	return nil
}

// checkpoint persists the current round/evaluations counters and the
// current Pareto fingerprints for audit purposes; QD fingerprints are
// not recorded.
func (o *Orchestrator) checkpoint() error {
	if o.deps.StateStore == nil {
		return nil
	}
	pareto := o.arc.ParetoCandidates()
	paretoFPs := make([]string, len(pareto))
	for i, e := range pareto {
		paretoFPs[i] = e.Candidate.Fingerprint
	}
	return o.deps.StateStore.Save(o.deps.IslandID, cache.State{
		Round:              o.round,
		Evaluations:        o.evaluations,
		ParetoFingerprints: paretoFPs,
	})
}

// Run executes rounds until the termination condition of spec.md §4.10
// fires, then drains, flushes, and returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.deps.ConfigManager != nil {
		updates, err := o.deps.ConfigManager.Watch()
		if err != nil {
			return err
		}
		o.cfgUpdates = updates
	}

	for {
		if o.round >= o.cfg.MaxRounds || o.evaluations >= o.cfg.MaxEvaluations {
			break
		}
		select {
		case <-ctx.Done():
			return o.shutdown()
		default:
		}
		o.pollConfigReload()
		if err := o.RunRound(ctx); err != nil {
			return err
		}
		if o.stopGov != nil {
			stop, reason := o.stopGov.ShouldStop()
			if stop {
				_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindSummary, map[string]interface{}{
					"auto_stop_reason": reason,
				})
				break
			}
		}
	}
	return o.shutdown()
}

// shutdown drains in-flight state, flushes the Cache, and checkpoints —
// spec.md §4.10's "drain in-flight evaluations, flush the Cache, close
// queues". RunRound is synchronous per rung, so by the time Run returns
// there is no in-flight evaluation left to drain.
func (o *Orchestrator) shutdown() error {
	if o.deps.ConfigManager != nil {
		_ = o.deps.ConfigManager.Close()
	}
	if err := o.checkpoint(); err != nil {
		return err
	}
	return o.deps.Cache.Close()
}

// pollConfigReload swaps in the most recently reloaded Config, if the
// Manager's watcher has one pending. Non-blocking: absent a pending
// reload, the current round proceeds under the config already in use.
// A reload that changes the number of shards is dropped rather than
// applied, since rungQueues is sized off the ladder length at New and
// resizing it mid-run would orphan whatever racers are already queued
// on the rungs beyond the new length.
func (o *Orchestrator) pollConfigReload() {
	if o.cfgUpdates == nil {
		return
	}
	select {
	case cfg, ok := <-o.cfgUpdates:
		if ok && cfg != nil && len(cfg.Shards) == len(o.rungQueues) {
			o.cfg = cfg
		}
	default:
	}
}

// RunRound executes one pass of spec.md §4.10's nine-step sequence.
func (o *Orchestrator) RunRound(ctx context.Context) error {
	o.round++
	evalsBefore := o.evaluations
	rungs := o.buildRungs()

	// 1. Drain inbox migrants.
	for _, c := range o.mig.Admit(o.seen) {
		o.seen.Add(c.Fingerprint)
		o.rungQueues[0] = append(o.rungQueues[0], scheduler.Racer{Candidate: c})
		_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMigrateIn, map[string]interface{}{"fingerprint": c.Fingerprint})
	}

	// 2-3. Draw parents, request offspring from the Mutator up to budget.
	o.proposeOffspring(ctx)

	// 4-5. Submit each non-empty rung's cohort to the Scheduler; insert
	// FullyEvaluated candidates into the Archive. Rungs run top-down, so a
	// racer promoted this round waits in the next rung's queue for a
	// later round.
	for i := len(rungs) - 1; i >= 0; i-- {
		rung := rungs[i]
		racers := o.rungQueues[i]
		if len(racers) == 0 {
			continue
		}
		o.rungQueues[i] = nil

		outcomes := o.sched.RunRung(ctx, rung, racers, scheduler.Options{
			PromoteObjective: o.cfg.PromoteObjective,
			CohortQuantile:   o.cfg.CohortQuantile,
			EpsImprove:       o.cfg.EpsImprove,
			EvalOptions:      o.evalOptions(),
		})
		o.handleOutcomes(i, outcomes)
	}

	// 6. Merge scheduling.
	if o.cfg.MergePeriod > 0 && o.round%o.cfg.MergePeriod == 0 {
		o.attemptMerge(ctx, rungs)
	}

	// 7. Opportunistic TokenController dispatch on newly archived elites.
	o.dispatchCompression(ctx)

	// 8. Migration emit.
	if o.cfg.MigrationPeriod > 0 && o.round%o.cfg.MigrationPeriod == 0 {
		o.emitMigrants()
	}

	// 9. Summary event.
	if o.cfg.LogSummaryInterval > 0 && o.round%o.cfg.LogSummaryInterval == 0 {
		o.emitSummary()
	}

	if o.stopGov != nil {
		o.stopGov.Update(epochMetrics{
			round:       o.round,
			hypervolume: o.arc.Hypervolume(0, 0),
			newEvals:    o.evaluations - evalsBefore,
			bestQuality: o.bestQuality(),
		})
	}

	return nil
}

// buildRungs materializes this round's example-ID shards for every
// configured rung fraction.
func (o *Orchestrator) buildRungs() []gepacore.Rung {
	rungs := make([]gepacore.Rung, len(o.cfg.Shards))
	for i, frac := range o.cfg.Shards {
		rungs[i] = gepacore.Rung{
			Index:             i,
			Fraction:          frac,
			ExampleIDs:        o.sampler.SampleForRung(o.deps.IslandID, o.round, frac),
			PromotionQuantile: o.cfg.CohortQuantile,
			EpsImprove:        o.cfg.EpsImprove,
		}
	}
	return rungs
}

// proposeOffspring draws parents from the top of the Pareto frontier
// and from the QD grid (spec.md §4.10 step 2), then requests offspring
// from the Mutator until max_mutations_per_round is reached or parents
// are exhausted (step 3). New offspring are admitted to rung 0.
func (o *Orchestrator) proposeOffspring(ctx context.Context) {
	budget := o.cfg.MaxMutationsPerRound
	if budget <= 0 {
		return
	}
	parents := o.drawParents(budget)
	rng := rand.New(rand.NewSource(sampler0Seed(o.deps.IslandID, o.round)))

	produced := 0
	for i, parent := range parents {
		if produced >= budget {
			break
		}
		traces := o.lastShard[parent.Fingerprint].FailureTraces
		offspring, err := o.mut.Propose(ctx, parent, traces, mutator.Options{
			AmortizedRate:       o.cfg.AmortizedRate,
			ReflectionBatchSize: o.cfg.ReflectionBatchSize,
			Seed:                rng.Int63() + int64(i),
		}, o.seen)
		if err != nil {
			continue
		}
		for _, c := range offspring {
			if produced >= budget {
				break
			}
			o.seen.Add(c.Fingerprint)
			o.rungQueues[0] = append(o.rungQueues[0], scheduler.Racer{Candidate: c})
			produced++
			_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMutationProposed, map[string]interface{}{
				"fingerprint": c.Fingerprint,
				"origin":      string(c.Origin),
				"parent":      parent.Fingerprint,
			})
		}
	}
}

// drawParents returns up to n candidates: the better half from the top
// of the Pareto frontier (ranked by promote objective), the rest from a
// QD sample favoring underpopulated grid cells.
func (o *Orchestrator) drawParents(n int) []gepacore.Candidate {
	pareto := o.arc.ParetoCandidates()
	sort.Slice(pareto, func(i, j int) bool {
		return pareto[i].Objectives[o.cfg.PromoteObjective] > pareto[j].Objectives[o.cfg.PromoteObjective]
	})

	fromPareto := (n + 1) / 2
	if fromPareto > len(pareto) {
		fromPareto = len(pareto)
	}
	var out []gepacore.Candidate
	for _, e := range pareto[:fromPareto] {
		out = append(out, e.Candidate)
	}

	remaining := n - len(out)
	if remaining > 0 {
		rng := rand.New(rand.NewSource(sampler0Seed(o.deps.IslandID, o.round) + 1))
		for _, e := range o.arc.SampleQD(remaining, rng) {
			out = append(out, e.Candidate)
		}
	}
	return out
}

// evalOptions builds the shared evaluator.Options for a plain race, one
// central place to keep every dispatch site (rung racing, merge
// validation, compression validation) on the same concurrency/retry
// policy.
func (o *Orchestrator) evalOptions() evaluator.Options {
	return evaluator.Options{
		Concurrency:      o.cfg.EvalConcurrency,
		MaxRetries:       o.cfg.MaxRetries,
		RetryBaseDelay:   time.Duration(o.cfg.RetryBaseDelayMS) * time.Millisecond,
		FailureThreshold: o.cfg.FailureThreshold,
		ShardVersion:     "v1",
		EventLog:         o.deps.EventLog,
		Island:           o.deps.IslandID,
		Round:            o.round,
	}
}

func sampler0Seed(islandID, round int) int64 {
	return int64(islandID)*7_919 + int64(round)*104_729
}

// handleOutcomes folds one rung's Scheduler outcomes back into the
// Orchestrator's state: pruned racers feed the Sampler's HardnessSet,
// promoted racers move to the next rung's queue, and FullyEvaluated
// candidates enter the Archive.
func (o *Orchestrator) handleOutcomes(rungIndex int, outcomes []scheduler.Outcome) {
	for _, outcome := range outcomes {
		o.evaluations += outcome.Shard.Count
		o.lastShard[outcome.Candidate.Fingerprint] = outcome.Shard

		switch outcome.State {
		case scheduler.StatePruned:
			if hs := o.sampler.Hardness(); hs != nil {
				hs.Record(failureIDs(outcome.Shard))
			}
		case scheduler.StatePromoted:
			next := rungIndex + 1
			_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindPromote, map[string]interface{}{
				"fingerprint": outcome.Candidate.Fingerprint,
				"from_rung":   rungIndex,
				"to_rung":     next,
				"quality":     outcome.PromoScore,
			})
			if next < len(o.rungQueues) {
				parentMean := 0.0
				for _, p := range outcome.Candidate.Parents {
					if s, ok := o.lastShard[p]; ok && s.Means[o.cfg.PromoteObjective] > parentMean {
						parentMean = s.Means[o.cfg.PromoteObjective]
					}
				}
				o.rungQueues[next] = append(o.rungQueues[next], scheduler.Racer{
					Candidate:       outcome.Candidate,
					ParentPriorMean: parentMean,
				})
			}
		case scheduler.StateFullyEvaluated:
			o.admitToArchive(outcome.Candidate, outcome.Shard)
		}
	}
}

func failureIDs(shard gepacore.ShardResult) []string {
	ids := make([]string, 0, len(shard.FailureTraces))
	for _, t := range shard.FailureTraces {
		if t != nil {
			ids = append(ids, t.ExampleID)
		}
	}
	return ids
}

func (o *Orchestrator) admitToArchive(c gepacore.Candidate, shard gepacore.ShardResult) {
	paretoAccepted, qdAccepted := o.arc.Insert(c, shard)
	if paretoAccepted || qdAccepted {
		_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindArchiveUpdate, map[string]interface{}{
			"fingerprint":     c.Fingerprint,
			"pareto_accepted": paretoAccepted,
			"qd_accepted":     qdAccepted,
		})
		if c.Origin == gepacore.OriginRuleEdit || c.Origin == gepacore.OriginReflection {
			_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMutationAccepted, map[string]interface{}{
				"fingerprint": c.Fingerprint,
			})
		}
	}
}

// attemptMerge takes the top-2 Pareto elites, merges them, and races
// the merged candidate on the top rung's shard, gating admission by
// AcceptMerge (spec.md §4.7, §4.10 step 6).
func (o *Orchestrator) attemptMerge(ctx context.Context, rungs []gepacore.Rung) {
	pareto := o.arc.ParetoCandidates()
	if len(pareto) < 2 {
		return
	}
	sort.Slice(pareto, func(i, j int) bool {
		return pareto[i].Objectives[o.cfg.PromoteObjective] > pareto[j].Objectives[o.cfg.PromoteObjective]
	})
	a, b := pareto[0], pareto[1]
	merged := mutator.Merge(a.Candidate, b.Candidate)
	if o.seen.Contains(merged.Fingerprint) {
		return
	}
	o.seen.Add(merged.Fingerprint)

	_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMergeProposed, map[string]interface{}{
		"fingerprint": merged.Fingerprint,
		"parent_a":    a.Candidate.Fingerprint,
		"parent_b":    b.Candidate.Fingerprint,
	})

	topRung := rungs[len(rungs)-1]
	shard := o.eval.Evaluate(ctx, merged, topRung.ExampleIDs, o.evalOptions())
	o.evaluations += shard.Count

	if shard.StructuralFail || !mutator.AcceptMerge(shard.Means[gepacore.ObjQuality], a.Objectives[gepacore.ObjQuality], b.Objectives[gepacore.ObjQuality], o.cfg.MergeUpliftMin) {
		_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMergeRejected, map[string]interface{}{"fingerprint": merged.Fingerprint})
		return
	}
	_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMergeAccepted, map[string]interface{}{"fingerprint": merged.Fingerprint})
	o.admitToArchive(merged, shard)
}

// dispatchCompression proposes and validates a compressed variant for
// each candidate the Archive just accepted this round (spec.md §4.8,
// §4.10 step 7). Accepted compressions become new, separate archive
// entries; the original is untouched.
func (o *Orchestrator) dispatchCompression(ctx context.Context) {
	for _, entry := range o.arc.ParetoCandidates() {
		original := entry.Candidate
		compressed := tokencontroller.Propose(original)
		if compressed.Text == original.Text || o.seen.Contains(compressed.Fingerprint) {
			continue
		}
		o.seen.Add(compressed.Fingerprint)

		shardIDs := o.sampler.SampleForRung(o.deps.IslandID, o.round, o.cfg.CompressionShardFraction)
		shard, accepted := o.tok.Validate(ctx, compressed, shardIDs, entry.Objectives[o.cfg.PromoteObjective], tokencontroller.Options{
			CompressionShardFraction: o.cfg.CompressionShardFraction,
			PruneDelta:               o.cfg.PruneDelta,
			CompressionObjective:     o.cfg.CompressionObjective,
			EvalOptions:              o.evalOptions(),
		})
		o.evaluations += shard.Count
		if !accepted {
			continue
		}
		_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindCompressionApplied, map[string]interface{}{
			"original":   original.Fingerprint,
			"compressed": compressed.Fingerprint,
		})
		o.admitToArchive(compressed, shard)
	}
}

// emitMigrants selects the top migration_k Pareto elites and pushes
// them toward this island's ring successor (spec.md §4.9 step 2).
func (o *Orchestrator) emitMigrants() {
	pareto := o.arc.ParetoCandidates()
	sort.Slice(pareto, func(i, j int) bool {
		return pareto[i].Objectives[o.cfg.PromoteObjective] > pareto[j].Objectives[o.cfg.PromoteObjective]
	})
	k := o.cfg.MigrationK
	if k > len(pareto) {
		k = len(pareto)
	}
	elites := make([]migration.Migrant, k)
	for i := 0; i < k; i++ {
		elites[i] = migration.Migrant{Candidate: pareto[i].Candidate, Objectives: pareto[i].Objectives}
	}
	o.mig.Emit(elites)
	for _, e := range elites {
		_ = o.deps.EventLog.Emit(o.deps.IslandID, o.round, eventlog.KindMigrateOut, map[string]interface{}{"fingerprint": e.Candidate.Fingerprint})
	}
}

// emitSummary reports the fields spec.md §6 requires on a `summary`
// event.
func (o *Orchestrator) emitSummary() {
	pareto := o.arc.ParetoCandidates()
	pending := 0
	for _, q := range o.rungQueues {
		pending += len(q)
	}

	stats := map[string]eventlog.ObjectiveStats{}
	for _, obj := range []string{gepacore.ObjQuality, gepacore.ObjNegCost, gepacore.ObjTokens} {
		stats[obj] = objectiveStats(pareto, obj)
	}

	_ = o.deps.EventLog.EmitSummary(o.deps.IslandID, o.round, eventlog.SummaryFields{
		PendingQueueDepth: pending,
		ParetoSize:        len(pareto),
		QDPopulatedBins:   o.arc.PopulatedBins(),
		TotalEvaluations:  o.evaluations,
		CacheHitRate:      o.deps.Cache.WarmRate(),
		ObjectiveStats:    stats,
	})
}

func objectiveStats(entries []archive.Entry, objective string) eventlog.ObjectiveStats {
	if len(entries) == 0 {
		return eventlog.ObjectiveStats{}
	}
	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = e.Objectives[objective]
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mid := len(values) / 2
	median := values[mid]
	if len(values)%2 == 0 {
		median = (values[mid-1] + values[mid]) / 2
	}
	return eventlog.ObjectiveStats{
		Min:    values[0],
		Max:    values[len(values)-1],
		Mean:   sum / float64(len(values)),
		Median: median,
	}
}

func (o *Orchestrator) bestQuality() float64 {
	best := 0.0
	for _, e := range o.arc.ParetoCandidates() {
		if q := e.Objectives[gepacore.ObjQuality]; q > best {
			best = q
		}
	}
	return best
}

// Archive exposes the underlying Archive for callers inspecting final
// results after Run returns.
func (o *Orchestrator) Archive() *archive.Archive { return o.arc }

// Round reports the number of rounds executed so far.
func (o *Orchestrator) Round() int { return o.round }

// Evaluations reports the cumulative oracle-call count observed via
// ShardResult.Count sums, an approximation of true oracle invocations
// since cache hits are counted the same as misses (spec.md §4.10 names
// "max_evaluations oracle calls" without specifying whether cache hits
// count toward the budget; SPEC_FULL treats every scored example,
// cached or not, as one unit of evaluation budget).
func (o *Orchestrator) Evaluations() int { return o.evaluations }
