package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"gonum.org/v1/gonum/floats"
)

// #region eval-harness
// EvalHarness validates a bandit snapshot before it is trusted, e.g. on
// restore at startup.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks the model invariants on snap: every context has at least one
// play, plays equal one plus the rewarded count, untried arms have zero
// estimates, and estimates stay finite and bounded.
func (h *EvalHarness) Run(snap bandit.Snapshot) EvalResult {
	if err := snap.Validate(); err != nil {
		return EvalResult{Passed: false, Reason: fmt.Sprintf("eval failed: %v", err)}
	}

	var metrics []EvalMetric
	var failReasons []string
	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Total plays never below one
	minPlays := floats.Min(snap.TotalPlays)
	check("min_total_plays", minPlays, minPlays >= 1,
		fmt.Sprintf("total plays %.0f below 1", minPlays))

	// 2. Plays track rewarded rounds
	var drift float64
	for c := 0; c < snap.NContexts; c++ {
		row := snap.ActionCounts[c*snap.NActions : (c+1)*snap.NActions]
		drift = math.Max(drift, math.Abs(snap.TotalPlays[c]-1-floats.Sum(row)))
	}
	check("play_count_drift", drift, drift <= h.config.MaxPlayDrift,
		fmt.Sprintf("play count drift %.2f exceeds %.2f", drift, h.config.MaxPlayDrift))

	// 3. Untried arms report zero
	untriedNonZero := 0
	maxAbs := 0.0
	finite := true
	for i, est := range snap.Estimates {
		if snap.ActionCounts[i] == 0 && est != 0 {
			untriedNonZero++
		}
		if math.IsNaN(est) || math.IsInf(est, 0) {
			finite = false
			continue
		}
		maxAbs = math.Max(maxAbs, math.Abs(est))
	}
	check("untried_nonzero_estimates", float64(untriedNonZero), untriedNonZero == 0,
		fmt.Sprintf("%d untried arms carry an estimate", untriedNonZero))

	// 4. Estimates finite and bounded
	check("max_abs_estimate", maxAbs, finite && maxAbs <= h.config.MaxAbsEstimate,
		fmt.Sprintf("estimate magnitude %.4g exceeds %.4g or is not finite", maxAbs, h.config.MaxAbsEstimate))

	// 5. Coverage: informational unless MinCoverage is set
	visited := 0
	for _, p := range snap.TotalPlays {
		if p > 1 {
			visited++
		}
	}
	coverage := float64(visited) / float64(snap.NContexts)
	check("context_coverage", coverage, coverage >= h.config.MinCoverage,
		fmt.Sprintf("coverage %.2f below %.2f", coverage, h.config.MinCoverage))

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}
	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region summarize
// Summarize reports plays, greedy and UCB choices for every context. offset
// converts indices to degrees.
func Summarize(m *bandit.Model, offset int) Summary {
	cfg := m.Config()
	s := Summary{
		NContexts: cfg.NContexts,
		NActions:  cfg.NActions,
		Contexts:  make([]ContextSummary, 0, cfg.NContexts),
	}
	for c := 0; c < cfg.NContexts; c++ {
		cs := SummarizeContext(m, c, offset)
		if cs.Plays > 1 {
			s.ContextsVisited++
		}
		s.TotalUpdates += cs.Plays - 1
		s.Contexts = append(s.Contexts, cs)
	}
	return s
}

// SummarizeContext reports one context. Out-of-range indices are clamped.
func SummarizeContext(m *bandit.Model, context, offset int) ContextSummary {
	cfg := m.Config()
	c := min(max(context, 0), cfg.NContexts-1)

	est := m.EstimateVector(c)
	greedy := floats.MaxIdx(est)
	ucb := floats.MaxIdx(m.UpperConfidenceVector(c))

	tried := 0
	for a := 0; a < cfg.NActions; a++ {
		if m.ActionCount(c, a) > 0 {
			tried++
		}
	}
	return ContextSummary{
		Context:        c,
		RadarAngle:     c - offset,
		Plays:          m.TotalPlays(c),
		ArmsTried:      tried,
		GreedyAction:   greedy,
		GreedyAngle:    greedy - offset,
		GreedyEstimate: est[greedy],
		UCBAction:      ucb,
		UCBAngle:       ucb - offset,
	}
}

// ModelFromSnapshot rebuilds a model from stored tables.
func ModelFromSnapshot(snap bandit.Snapshot, exploration float64) (*bandit.Model, error) {
	m, err := bandit.New(bandit.Config{NContexts: snap.NContexts, NActions: snap.NActions, Exploration: exploration})
	if err != nil {
		return nil, err
	}
	if err := m.Restore(snap); err != nil {
		return nil, err
	}
	return m, nil
}

// #endregion summarize
