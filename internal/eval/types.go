package eval

// #region eval-config
// EvalConfig holds thresholds for snapshot validation.
type EvalConfig struct {
	MaxPlayDrift   float64 // reject if |plays - 1 - sum(counts)| exceeds this for any context
	MaxAbsEstimate float64 // reject if any running mean exceeds this magnitude
	MinCoverage    float64 // warn if fewer contexts than this fraction were ever rewarded
}

// DefaultEvalConfig returns thresholds for the reference reward scale.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxPlayDrift:   0.5,
		MaxAbsEstimate: 1e6,
		MinCoverage:    0,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of snapshot validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// #endregion eval-result

// #region summary
// ContextSummary describes what the bandit has learned for one radar bucket.
type ContextSummary struct {
	Context        int     `json:"context"`
	RadarAngle     int     `json:"radar_angle"`
	Plays          float64 `json:"total_plays"`
	ArmsTried      int     `json:"arms_tried"`
	GreedyAction   int     `json:"greedy_action"`
	GreedyAngle    int     `json:"greedy_angle"`
	GreedyEstimate float64 `json:"greedy_estimate"`
	UCBAction      int     `json:"ucb_action"`
	UCBAngle       int     `json:"ucb_angle"`
}

// Summary covers every context of a model.
type Summary struct {
	NContexts       int              `json:"n_contexts"`
	NActions        int              `json:"n_actions"`
	ContextsVisited int              `json:"contexts_visited"`
	TotalUpdates    float64          `json:"total_updates"`
	Contexts        []ContextSummary `json:"contexts"`
}

// #endregion summary
