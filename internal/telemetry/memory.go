package telemetry

import (
	"context"
	"sync"
)

// #region memory-gateway
// MemoryGateway is an in-process Gateway. Pushed readings are handed out once;
// emitted records are kept for inspection. Used by replay and tests.
type MemoryGateway struct {
	mu sync.Mutex

	radar    *RadarMeasurement
	comm     *CommMeasurement
	radarErr error
	commErr  error

	commands  []PacketCommand
	decisions []RadarDecision
	plots     []PlotSample
	emitErr   error
}

// NewMemoryGateway returns an empty gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// PushRadar queues r as the next radar read.
func (g *MemoryGateway) PushRadar(r RadarMeasurement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.radar = &r
}

// PushComm queues c as the next comm read.
func (g *MemoryGateway) PushComm(c CommMeasurement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.comm = &c
}

// FailReads makes subsequent loads return the given errors (nil clears).
func (g *MemoryGateway) FailReads(radarErr, commErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.radarErr = radarErr
	g.commErr = commErr
}

// FailEmits makes subsequent emits return err (nil clears).
func (g *MemoryGateway) FailEmits(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emitErr = err
}

// LoadLatestRadar returns the queued radar reading or ErrNoData.
func (g *MemoryGateway) LoadLatestRadar(ctx context.Context) (RadarMeasurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.radarErr != nil {
		return RadarMeasurement{}, g.radarErr
	}
	if g.radar == nil {
		return RadarMeasurement{}, ErrNoData
	}
	r := *g.radar
	g.radar = nil
	return r, nil
}

// LoadLatestComm returns the queued comm reading or ErrNoData.
func (g *MemoryGateway) LoadLatestComm(ctx context.Context) (CommMeasurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commErr != nil {
		return CommMeasurement{}, g.commErr
	}
	if g.comm == nil {
		return CommMeasurement{}, ErrNoData
	}
	c := *g.comm
	g.comm = nil
	return c, nil
}

// EmitPacketCommand records cmd.
func (g *MemoryGateway) EmitPacketCommand(ctx context.Context, cmd PacketCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emitErr != nil {
		return g.emitErr
	}
	g.commands = append(g.commands, cmd)
	return nil
}

// EmitRadarDecision records d.
func (g *MemoryGateway) EmitRadarDecision(ctx context.Context, d RadarDecision) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emitErr != nil {
		return g.emitErr
	}
	g.decisions = append(g.decisions, d)
	return nil
}

// AppendPlotSample records s.
func (g *MemoryGateway) AppendPlotSample(ctx context.Context, s PlotSample) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plots = append(g.plots, s)
	return nil
}

// Commands returns a copy of every emitted packet command.
func (g *MemoryGateway) Commands() []PacketCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PacketCommand(nil), g.commands...)
}

// Decisions returns a copy of every emitted radar decision.
func (g *MemoryGateway) Decisions() []RadarDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]RadarDecision(nil), g.decisions...)
}

// PlotSamples returns a copy of every appended plot sample.
func (g *MemoryGateway) PlotSamples() []PlotSample {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PlotSample(nil), g.plots...)
}

// #endregion memory-gateway
