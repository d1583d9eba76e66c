package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/gate"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/signals"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
	"github.com/danielpatrickdp/beam-controller/internal/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// #region controller-struct
// Controller drives the contextual bandit against a telemetry gateway. All
// loop state lives here; one goroutine calls Tick at a time.
type Controller struct {
	config  Config
	model   *bandit.Model
	gateway telemetry.Gateway
	gate    *gate.Gate
	shaper  *signals.Shaper

	clock     timectrl.Clock
	log       logging.Logger
	metrics   *observability.ControllerCollector
	observer  RoundObserver
	decisions DecisionRecorder
	tracer    trace.Tracer
	clampWarn rate.Sometimes

	radar *telemetry.Latest[telemetry.RadarMeasurement]
	comm  *telemetry.Latest[telemetry.CommMeasurement]

	lastRadarTS string
	haveRadarTS bool
	lastCommand time.Time
	pending     *Decision
	plotRadar   int // angles of the previous data round, for plot samples
	plotBeam    int
	rounds      int
}

// #endregion controller-struct

// #region constructor
// New wires a controller around model and gateway. The probe timer starts at
// construction, so the first idle probe fires one interval later.
func New(config Config, model *bandit.Model, gateway telemetry.Gateway, opts ...Option) (*Controller, error) {
	if model == nil || gateway == nil {
		return nil, errors.New("controller: model and gateway are required")
	}
	mc := model.Config()
	if config.Shaper.NContexts != mc.NContexts || config.Shaper.NActions != mc.NActions {
		return nil, fmt.Errorf("controller: shaper %dx%d does not match model %dx%d",
			config.Shaper.NContexts, config.Shaper.NActions, mc.NContexts, mc.NActions)
	}

	c := &Controller{
		config:    config,
		model:     model,
		gateway:   gateway,
		gate:      gate.NewGate(config.Gate),
		shaper:    signals.NewShaper(config.Shaper),
		clock:     timectrl.SystemClock{},
		log:       logging.Noop(),
		clampWarn: rate.Sometimes{First: 5, Interval: 10 * time.Second},
		radar:     telemetry.NewLatest[telemetry.RadarMeasurement](config.MaxTelemetryAge),
		comm:      telemetry.NewLatest[telemetry.CommMeasurement](config.MaxTelemetryAge),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/danielpatrickdp/beam-controller/internal/controller")
	}
	c.lastCommand = c.clock.Now()
	return c, nil
}

// #endregion constructor

// #region accessors
// Model returns the bandit the controller trains.
func (c *Controller) Model() *bandit.Model {
	return c.model
}

// Pending returns the decision awaiting a reward, if any.
func (c *Controller) Pending() (Decision, bool) {
	if c.pending == nil {
		return Decision{}, false
	}
	return *c.pending, true
}

// Rounds returns how many bandit updates this controller has applied.
func (c *Controller) Rounds() int {
	return c.rounds
}

// #endregion accessors

// #region run
// Run ticks until ctx is cancelled, sleeping TickDelay between ticks.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickDelay())
	defer ticker.Stop()

	c.log.Info(ctx, "controller loop started",
		logging.String("tick_delay", c.tickDelay().String()),
		logging.String("probe_interval", c.config.Gate.ProbeInterval.String()),
	)
	for {
		select {
		case <-ctx.Done():
			c.log.Info(ctx, "controller loop stopped", logging.Int("rounds", c.rounds))
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

func (c *Controller) tickDelay() time.Duration {
	if c.config.TickDelay <= 0 {
		return time.Millisecond
	}
	return c.config.TickDelay
}

// #endregion run

// #region tick
// Tick runs one pass of the decision loop.
func (c *Controller) Tick(ctx context.Context) TickResult {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "controller.tick")
	defer span.End()

	res := c.tick(ctx, c.clock.Now())

	span.SetAttributes(
		attribute.String("beam.outcome", string(res.Outcome)),
		attribute.Bool("beam.updated", res.Updated),
	)
	if res.Decision != nil {
		span.SetAttributes(
			attribute.Int("beam.context", res.Decision.Context),
			attribute.Int("beam.action", res.Decision.Action),
		)
	}
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	c.metrics.ObserveTick(string(res.Outcome), time.Since(start))
	return res
}

func (c *Controller) tick(ctx context.Context, now time.Time) TickResult {
	if d, ok := c.gate.IdleProbe(c.lastCommand, now); ok {
		return c.probe(ctx, now, OutcomeIdleProbe, d, TickResult{})
	}

	radar, comm, outcome, ok := c.fetch(ctx, now)
	if !ok {
		return TickResult{Outcome: outcome}
	}

	if c.haveRadarTS && radar.Timestamp == c.lastRadarTS {
		return TickResult{Outcome: OutcomeStale}
	}
	c.lastRadarTS = radar.Timestamp
	c.haveRadarTS = true

	res := TickResult{}
	if c.pending != nil {
		res.Reward = c.shaper.Reward(comm)
		c.model.Update(c.pending.Context, c.pending.Action, res.Reward)
		res.Rewarded = c.pending
		c.pending = nil
		c.rounds++
		res.Updated = true
		c.metrics.ObserveUpdate(res.Reward)
		if c.observer != nil {
			c.observer.RoundCompleted(ctx)
		}
	}

	if d := c.gate.Evaluate(comm); d.Action == gate.ActionProbe {
		return c.probe(ctx, now, OutcomePERProbe, d, res)
	}
	return c.act(ctx, now, radar, comm, res)
}

// fetch merges fresh reads into the last-known-good holders.
func (c *Controller) fetch(ctx context.Context, now time.Time) (telemetry.RadarMeasurement, telemetry.CommMeasurement, Outcome, bool) {
	r, rerr := c.gateway.LoadLatestRadar(ctx)
	if rerr != nil && !errors.Is(rerr, telemetry.ErrNoData) {
		c.log.Warn(ctx, "radar read failed", logging.Err(rerr))
	}
	m, merr := c.gateway.LoadLatestComm(ctx)
	if merr != nil && !errors.Is(merr, telemetry.ErrNoData) {
		c.log.Warn(ctx, "comm read failed", logging.Err(merr))
	}

	radar, rerr := c.radar.Merge(r, rerr, now)
	comm, merr := c.comm.Merge(m, merr, now)
	switch {
	case errors.Is(rerr, telemetry.ErrNoData) || errors.Is(merr, telemetry.ErrNoData):
		return radar, comm, OutcomeNoData, false
	case errors.Is(rerr, telemetry.ErrExpired) || errors.Is(merr, telemetry.ErrExpired):
		c.log.Debug(ctx, "fallback telemetry expired",
			logging.String("radar_age", c.radar.Age(now).String()),
			logging.String("comm_age", c.comm.Age(now).String()),
		)
		return radar, comm, OutcomeExpired, false
	}
	return radar, comm, "", true
}

// #endregion tick

// #region emit
// probe sends a probe packet. Probes carry no direction, so the pending
// decision is dropped and the next round is not rewarded.
func (c *Controller) probe(ctx context.Context, now time.Time, outcome Outcome, d gate.GateDecision, res TickResult) TickResult {
	c.pending = nil
	cmd := telemetry.PacketCommand{
		Timestamp: telemetry.FormatTimestamp(now),
		Type:      telemetry.PacketProbe,
		Size:      c.config.ProbeSize,
	}
	res.Outcome = outcome
	res.Command = &cmd
	c.metrics.ObserveProbe(string(d.Reason))

	if err := c.gateway.EmitPacketCommand(ctx, cmd); err != nil {
		res.Err = fmt.Errorf("emit probe: %w", err)
		c.log.Warn(ctx, "emit probe failed", logging.Err(err), logging.String("reason", string(d.Reason)))
		return res
	}
	c.lastCommand = now
	c.log.Debug(ctx, "probe sent", logging.String("reason", string(d.Reason)), logging.String("detail", d.Detail))

	entry := logging.DecisionEntry{
		PacketType: int(telemetry.PacketProbe),
		PacketSize: cmd.Size,
		Reason:     string(d.Reason),
		CreatedAt:  now,
	}
	if outcome == OutcomePERProbe {
		comm, _ := c.comm.Get()
		entry.PER = &comm.PER
		entry.DataSNR = &comm.DataSNR
	}
	if res.Updated {
		entry.Reward = &res.Reward
	}
	rec := tickRecord(res)
	rec.GateDetail = d.Detail
	entry.DetailJSON = encodeDetail(rec)
	c.record(ctx, entry)
	return res
}

// act selects an action for the radar angle and emits a data packet.
func (c *Controller) act(ctx context.Context, now time.Time, radar telemetry.RadarMeasurement, comm telemetry.CommMeasurement, res TickResult) TickResult {
	ctxBucket := c.shaper.Context(radar.EstimatedAngle)
	if ctxBucket.Clamped {
		c.metrics.ObserveClamp("context")
		c.clampWarn.Do(func() {
			c.log.Warn(ctx, "radar angle outside context range; clamped",
				logging.Float("angle", radar.EstimatedAngle),
				logging.Int("raw_index", ctxBucket.Raw),
				logging.Int("context", ctxBucket.Index),
			)
		})
	}

	action := c.model.SelectAction(ctxBucket.Index)
	dec := Decision{
		Context:    ctxBucket.Index,
		Action:     action,
		RadarAngle: c.shaper.RadarAngle(ctxBucket.Index),
		BeamAngle:  c.shaper.BeamAngle(action),
	}
	ts := telemetry.FormatTimestamp(now)
	cmd := telemetry.PacketCommand{Timestamp: ts, Type: telemetry.PacketData, Size: c.config.DataSize}
	res.Outcome = OutcomeData
	res.Command = &cmd
	res.Decision = &dec

	if err := c.gateway.EmitPacketCommand(ctx, cmd); err != nil {
		res.Err = fmt.Errorf("emit data: %w", err)
		c.log.Warn(ctx, "emit data failed", logging.Err(err))
		return res
	}
	c.lastCommand = now
	c.pending = &dec

	if err := c.gateway.EmitRadarDecision(ctx, telemetry.RadarDecision{Timestamp: ts, Angle: dec.BeamAngle}); err != nil {
		res.Err = fmt.Errorf("emit radar decision: %w", err)
		c.log.Warn(ctx, "emit radar decision failed", logging.Err(err))
	}
	sample := telemetry.PlotSample{
		PacketType: comm.PacketType,
		RadarAngle: c.plotRadar,
		BeamAngle:  c.plotBeam,
		DataSNR:    comm.DataSNR,
		CRC:        comm.CRC,
		Throughput: comm.Throughput,
	}
	if err := c.gateway.AppendPlotSample(ctx, sample); err != nil {
		c.log.Debug(ctx, "plot sample dropped", logging.Err(err))
	}
	c.plotRadar, c.plotBeam = dec.RadarAngle, dec.BeamAngle

	c.log.Debug(ctx, "data sent",
		logging.Int("radar_angle", dec.RadarAngle),
		logging.Int("beam_angle", dec.BeamAngle),
	)

	entry := logging.DecisionEntry{
		PacketType: int(telemetry.PacketData),
		PacketSize: cmd.Size,
		Reason:     string(gate.ReasonDirectional),
		RadarAngle: &dec.RadarAngle,
		BeamAngle:  &dec.BeamAngle,
		PER:        &comm.PER,
		DataSNR:    &comm.DataSNR,
		CreatedAt:  now,
	}
	if res.Updated {
		entry.Reward = &res.Reward
	}
	rec := tickRecord(res)
	rec.RadarTimestamp = radar.Timestamp
	rec.CommTimestamp = comm.Timestamp
	rec.RadarAngleRaw = radar.EstimatedAngle
	rec.Context = dec.Context
	rec.Action = dec.Action
	rec.ContextClamped = ctxBucket.Clamped
	entry.DetailJSON = encodeDetail(rec)
	c.record(ctx, entry)
	return res
}

// #endregion emit

// #region provenance
func (c *Controller) record(ctx context.Context, entry logging.DecisionEntry) {
	if c.decisions == nil {
		return
	}
	if err := c.decisions.RecordDecision(ctx, entry); err != nil {
		c.log.Warn(ctx, "record decision failed", logging.Err(err))
	}
}

func tickRecord(res TickResult) logging.TickRecord {
	rec := logging.TickRecord{Updated: res.Updated}
	if res.Rewarded != nil {
		rec.PrevContext = res.Rewarded.Context
		rec.PrevAction = res.Rewarded.Action
	}
	return rec
}

func encodeDetail(rec logging.TickRecord) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion provenance
