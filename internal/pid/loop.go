package pid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
	"github.com/danielpatrickdp/beam-controller/internal/timectrl"
)

// #region loop-config
// LoopConfig sets the PID loop cadence and its sub-configs.
type LoopConfig struct {
	Interval        time.Duration
	MaxTelemetryAge time.Duration // 0 keeps the fallback reading forever
	PID             PIDConfig
	Policy          PolicyConfig
}

// DefaultLoopConfig runs every 100ms with the reference gains and policy.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval: 100 * time.Millisecond,
		PID:      DefaultPIDConfig(),
		Policy:   DefaultPolicyConfig(),
	}
}

// #endregion loop-config

// #region loop
// CommLink is the slice of the telemetry gateway the PID loop needs.
type CommLink interface {
	LoadLatestComm(ctx context.Context) (telemetry.CommMeasurement, error)
	EmitPacketCommand(ctx context.Context, cmd telemetry.PacketCommand) error
}

// StepResult reports one loop iteration.
type StepResult struct {
	Skipped bool // no usable comm reading
	Updated bool // the PID recomputed its output
	Output  float64
	Command *telemetry.PacketCommand
	Err     error
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithClock replaces the wall clock.
func WithClock(clock timectrl.Clock) LoopOption {
	return func(l *Loop) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) LoopOption {
	return func(l *Loop) { l.log = log }
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *observability.ControllerCollector) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// Loop reads link SNR, regulates it with a PID and emits a packet per step.
type Loop struct {
	config  LoopConfig
	link    CommLink
	clock   timectrl.Clock
	log     logging.Logger
	metrics *observability.ControllerCollector

	pid  *Controller
	comm *telemetry.Latest[telemetry.CommMeasurement]
}

// NewLoop creates a loop over link.
func NewLoop(config LoopConfig, link CommLink, opts ...LoopOption) *Loop {
	l := &Loop{
		config: config,
		link:   link,
		clock:  timectrl.SystemClock{},
		log:    logging.Noop(),
		comm:   telemetry.NewLatest[telemetry.CommMeasurement](config.MaxTelemetryAge),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pid = New(config.PID, l.clock.Now())
	return l
}

// PID exposes the underlying regulator.
func (l *Loop) PID() *Controller {
	return l.pid
}

// SetPoint changes the target SNR and resets the regulator.
func (l *Loop) SetPoint(target float64) {
	l.pid.SetPoint(target, l.clock.Now())
}

// Step runs one iteration.
func (l *Loop) Step(ctx context.Context) StepResult {
	now := l.clock.Now()
	m, err := l.link.LoadLatestComm(ctx)
	if err != nil && !errors.Is(err, telemetry.ErrNoData) {
		l.log.Warn(ctx, "comm read failed", logging.Err(err))
	}
	comm, err := l.comm.Merge(m, err, now)
	if err != nil {
		return StepResult{Skipped: true}
	}

	output, updated := l.pid.Update(comm.SNR, now)
	cmd := l.config.Policy.Packet(output, telemetry.FormatTimestamp(now))
	res := StepResult{Updated: updated, Output: output, Command: &cmd}
	l.metrics.ObservePID(output, cmd.Size)

	if err := l.link.EmitPacketCommand(ctx, cmd); err != nil {
		res.Err = fmt.Errorf("emit packet: %w", err)
		l.log.Warn(ctx, "emit packet failed", logging.Err(err))
		return res
	}
	l.log.Debug(ctx, "pid step",
		logging.Float("snr", comm.SNR),
		logging.Float("output", output),
		logging.String("packet", cmd.Type.String()),
		logging.Int("size", cmd.Size),
	)
	return res
}

// Run steps every Interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.config.Interval
	if interval <= 0 {
		interval = DefaultLoopConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.log.Info(ctx, "pid loop started",
		logging.Float("set_point", l.pid.Config().SetPoint),
		logging.String("interval", interval.String()),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Step(ctx)
		}
	}
}

// #endregion loop
