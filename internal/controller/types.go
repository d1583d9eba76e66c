package controller

import (
	"context"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/gate"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/signals"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
	"github.com/danielpatrickdp/beam-controller/internal/timectrl"
)

// #region config
// Config holds the decision loop's cadence, packet shapes and sub-configs.
type Config struct {
	TickDelay       time.Duration // sleep between ticks in Run
	ProbeSize       int           // bytes in a probe (NDP) packet
	DataSize        int           // bytes in a directional data packet
	MaxTelemetryAge time.Duration // 0 keeps fallback readings forever
	Gate            gate.GateConfig
	Shaper          signals.ShaperConfig
}

// DefaultConfig returns the reference loop settings.
func DefaultConfig() Config {
	return Config{
		TickDelay:       time.Millisecond,
		ProbeSize:       7,
		DataSize:        400,
		MaxTelemetryAge: 0,
		Gate:            gate.DefaultGateConfig(),
		Shaper:          signals.DefaultShaperConfig(),
	}
}

// #endregion config

// #region outcome
// Outcome names the branch a tick took.
type Outcome string

const (
	OutcomeIdleProbe Outcome = "idle_probe" // probe interval elapsed with nothing sent
	OutcomeNoData    Outcome = "no_data"    // a stream has never produced a reading
	OutcomeStale     Outcome = "stale"      // radar timestamp unchanged
	OutcomeExpired   Outcome = "expired"    // fallback reading older than MaxTelemetryAge
	OutcomePERProbe  Outcome = "per_probe"  // PER breaker forced a probe
	OutcomeData      Outcome = "data"       // bandit-selected data packet
)

// #endregion outcome

// #region decision
// Decision is one bandit choice, in index space and in degrees.
type Decision struct {
	Context    int `json:"context"`
	Action     int `json:"action"`
	RadarAngle int `json:"radar_angle"`
	BeamAngle  int `json:"beam_angle"`
}

// #endregion decision

// #region tick-result
// TickResult reports what a single tick did.
type TickResult struct {
	Outcome  Outcome
	Updated  bool      // a pending decision was rewarded this tick
	Reward   float64   // shaped reward, set when Updated
	Rewarded *Decision // the decision Reward was applied to
	Command  *telemetry.PacketCommand
	Decision *Decision
	Err      error // emit failure; the loop carries on
}

// #endregion tick-result

// #region hooks
// RoundObserver is told after every bandit update. The checkpointer
// implements it to schedule snapshots off the hot path.
type RoundObserver interface {
	RoundCompleted(ctx context.Context)
}

// DecisionRecorder stores provenance for emitted commands.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, entry logging.DecisionEntry) error
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, for tests and replay.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics sets the Prometheus collector. A nil collector disables metrics.
func WithMetrics(m *observability.ControllerCollector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithObserver registers a RoundObserver.
func WithObserver(o RoundObserver) Option {
	return func(c *Controller) { c.observer = o }
}

// WithDecisionLog records every emitted command.
func WithDecisionLog(r DecisionRecorder) Option {
	return func(c *Controller) { c.decisions = r }
}

// #endregion hooks
