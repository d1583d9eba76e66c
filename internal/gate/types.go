package gate

import "time"

// #region reason
// Reason explains why a packet of a given type was chosen.
type Reason string

const (
	ReasonIdle        Reason = "idle_interval" // nothing sent for a full probe interval
	ReasonHighPER     Reason = "high_per"      // link-quality circuit breaker
	ReasonDirectional Reason = "directional"   // bandit-selected data packet
)

// #endregion reason

// #region action
// Action is the kind of transmission the gate allows.
type Action string

const (
	ActionProbe Action = "probe"
	ActionData  Action = "data"
)

// #endregion action

// #region gate-config
// GateConfig holds the probe cadence and PER breaker threshold.
type GateConfig struct {
	ProbeInterval time.Duration // send a probe if nothing went out for this long
	PERThreshold  float64       // percent; at or above this only probes are sent
}

// DefaultGateConfig returns a 2s probe interval and a 30% PER threshold.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ProbeInterval: 2 * time.Second,
		PERThreshold:  30,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action Action
	Reason Reason
	Detail string
}

// #endregion gate-decision
