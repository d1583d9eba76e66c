package gate

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region gate
// Gate decides between a probe and a directional data packet.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the gate configuration.
func (g *Gate) Config() GateConfig {
	return g.config
}

// IdleProbe reports whether the link has been quiet long enough that a probe
// must go out before anything else this tick.
func (g *Gate) IdleProbe(lastCommand, now time.Time) (GateDecision, bool) {
	elapsed := now.Sub(lastCommand)
	if elapsed < g.config.ProbeInterval {
		return GateDecision{}, false
	}
	return GateDecision{
		Action: ActionProbe,
		Reason: ReasonIdle,
		Detail: fmt.Sprintf("no command for %s (interval %s)", elapsed, g.config.ProbeInterval),
	}, true
}

// Evaluate applies the PER breaker to a fresh link report. A probe decision
// overrides whatever the bandit would have selected.
func (g *Gate) Evaluate(comm telemetry.CommMeasurement) GateDecision {
	if comm.PER >= g.config.PERThreshold {
		return GateDecision{
			Action: ActionProbe,
			Reason: ReasonHighPER,
			Detail: fmt.Sprintf("per %.2f%% at or above %.2f%%", comm.PER, g.config.PERThreshold),
		}
	}
	return GateDecision{
		Action: ActionData,
		Reason: ReasonDirectional,
		Detail: fmt.Sprintf("per %.2f%% below %.2f%%", comm.PER, g.config.PERThreshold),
	}
}

// #endregion gate
