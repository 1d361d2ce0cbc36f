package orchestrator

import "github.com/Studio-Intrinsic/turbo-gepa/pkg/config"

// epochMetrics is one round's convergence snapshot, grounded on
// original_source/stop_governor.py's EpochMetrics.
type epochMetrics struct {
	round       int
	hypervolume float64
	newEvals    int
	bestQuality float64
}

// stopGovernor tracks EWMA hypervolume-gain-rate and quality-delta
// signals across rounds and recommends stopping once both plateau for
// hysteresis_window consecutive rounds (SPEC_FULL item 1). It never
// overrides the hard max_rounds/max_evaluations caps; it only shortens
// a run that has already converged.
type stopGovernor struct {
	cfg  config.StopGovernorConfig
	prev *epochMetrics

	ewmaHVRate      float64
	ewmaQualityDelta float64
	lastBestQuality float64

	belowThreshold      int
	noImprovementEpochs int
}

func newStopGovernor(cfg config.StopGovernorConfig) *stopGovernor {
	return &stopGovernor{cfg: cfg}
}

// Update folds in one round's metrics.
func (g *stopGovernor) Update(m epochMetrics) {
	if g.prev != nil {
		deltaHV := m.hypervolume - g.prev.hypervolume
		denom := m.newEvals
		if denom < 1 {
			denom = 1
		}
		hvRate := deltaHV / float64(denom)
		deltaQuality := m.bestQuality - g.prev.bestQuality

		a := g.cfg.Alpha
		g.ewmaHVRate = a*hvRate + (1-a)*g.ewmaHVRate
		g.ewmaQualityDelta = a*deltaQuality + (1-a)*g.ewmaQualityDelta

		if deltaQuality > g.cfg.TauQuality {
			g.noImprovementEpochs = 0
		} else {
			g.noImprovementEpochs++
		}
	}
	g.prev = &m
	g.lastBestQuality = m.bestQuality
}

// ShouldStop reports whether the plateau has held long enough to end
// the run early, and the reason for the eventlog summary record.
func (g *stopGovernor) ShouldStop() (bool, string) {
	if g.noImprovementEpochs >= g.cfg.MaxNoImprovementEpochs {
		return true, "max_no_improvement_epochs"
	}
	if g.prev == nil {
		return false, ""
	}
	if g.cfg.TauHV <= 0 {
		return false, ""
	}

	sHV := clamp01(g.ewmaHVRate / g.cfg.TauHV)
	sQuality := g.qualitySignal()
	maxSignal := sHV
	if sQuality > maxSignal {
		maxSignal = sQuality
	}

	if maxSignal < g.cfg.StopThreshold {
		g.belowThreshold++
	} else {
		g.belowThreshold = 0
	}
	if g.belowThreshold >= g.cfg.HysteresisWindow {
		return true, "plateau"
	}
	return false, ""
}

func (g *stopGovernor) qualitySignal() float64 {
	if g.cfg.TauQuality <= 0 {
		return 1.0
	}
	absoluteSignal := g.ewmaQualityDelta / g.cfg.TauQuality
	relativeSignal := 1.0
	if g.cfg.TauQualityRelative > 0 {
		base := g.lastBestQuality
		if base < 0.01 {
			base = 0.01
		}
		relativeSignal = (g.ewmaQualityDelta / base) / g.cfg.TauQualityRelative
	}
	best := absoluteSignal
	if relativeSignal > best {
		best = relativeSignal
	}
	return clamp01(best)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
