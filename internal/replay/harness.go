package replay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/controller"
	"github.com/danielpatrickdp/beam-controller/internal/eval"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
	"github.com/danielpatrickdp/beam-controller/internal/timectrl"
)

// Epoch is the fake wall time a replay starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// #region types
// Frame is one replay step. Readings are delivered before the tick runs.
type Frame struct {
	Elapsed time.Duration
	Radar   *telemetry.RadarMeasurement
	Comm    *telemetry.CommMeasurement
}

// ReplayConfig holds the controller, model and validation settings for a replay.
type ReplayConfig struct {
	Controller controller.Config
	Bandit     bandit.Config
	Eval       eval.EvalConfig
}

// DefaultReplayConfig returns the production defaults.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Controller: controller.DefaultConfig(),
		Bandit:     bandit.DefaultConfig(),
		Eval:       eval.DefaultEvalConfig(),
	}
}

// ReplayResult captures what one frame did.
type ReplayResult struct {
	Index    int                      `json:"index"`
	Outcome  controller.Outcome       `json:"outcome"`
	Updated  bool                     `json:"updated"`
	Reward   float64                  `json:"reward,omitempty"`
	Decision *controller.Decision     `json:"decision,omitempty"`
	Command  *telemetry.PacketCommand `json:"command,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// CellValue is one learned (context, action) entry.
type CellValue struct {
	Estimate float64 `json:"estimate"`
	Count    float64 `json:"count"`
}

// ReplaySummary aggregates results across a replay.
type ReplaySummary struct {
	TotalFrames   int             `json:"total_frames"`
	Updates       int             `json:"updates"`
	Probes        int             `json:"probes"`
	IdleProbes    int             `json:"idle_probes"`
	PERProbes     int             `json:"per_probes"`
	DataCommands  int             `json:"data_commands"`
	Stale         int             `json:"stale"`
	NoData        int             `json:"no_data"`
	Expired       int             `json:"expired"`
	EmitErrors    int             `json:"emit_errors"`
	BeamHistogram map[int]int     `json:"beam_histogram"` // beam angle -> data packets
	Eval          eval.EvalResult `json:"eval"`
	Final         bandit.Snapshot `json:"-"`
}

// Cell returns the final estimate and count for (context, action).
func (s ReplaySummary) Cell(context, action int) (CellValue, bool) {
	snap := s.Final
	if context < 0 || context >= snap.NContexts || action < 0 || action >= snap.NActions {
		return CellValue{}, false
	}
	i := context*snap.NActions + action
	return CellValue{Estimate: snap.Estimates[i], Count: snap.ActionCounts[i]}, true
}

// #endregion types

// #region replay
// Replay drives frames through a controller over an in-memory gateway with a
// manual clock. start seeds the model; nil means a cold start. The returned
// model holds the learned state.
func Replay(ctx context.Context, start *bandit.Snapshot, frames []Frame, config ReplayConfig, log logging.Logger) ([]ReplayResult, *bandit.Model, error) {
	model, err := bandit.New(config.Bandit)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: %w", err)
	}
	if start != nil {
		if err := model.Restore(*start); err != nil {
			return nil, nil, fmt.Errorf("replay: restore start snapshot: %w", err)
		}
	}
	if log == nil {
		log = logging.Noop()
	}

	clock := timectrl.NewManualClock(Epoch)
	gw := telemetry.NewMemoryGateway()
	ctrl, err := controller.New(config.Controller, model, gw,
		controller.WithClock(clock),
		controller.WithLogger(log),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: %w", err)
	}

	results := make([]ReplayResult, 0, len(frames))
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return results, model, err
		}
		clock.Advance(f.Elapsed)
		if f.Radar != nil {
			gw.PushRadar(*f.Radar)
		}
		if f.Comm != nil {
			gw.PushComm(*f.Comm)
		}

		tr := ctrl.Tick(ctx)
		r := ReplayResult{
			Index:    i,
			Outcome:  tr.Outcome,
			Updated:  tr.Updated,
			Reward:   tr.Reward,
			Decision: tr.Decision,
			Command:  tr.Command,
		}
		if tr.Err != nil {
			r.Error = tr.Err.Error()
		}
		results = append(results, r)
	}
	return results, model, nil
}

// #endregion replay

// #region summarize
// Summarize aggregates replay results and validates the final model.
func Summarize(results []ReplayResult, final *bandit.Model, config eval.EvalConfig) ReplaySummary {
	s := ReplaySummary{
		TotalFrames:   len(results),
		BeamHistogram: make(map[int]int),
	}
	for _, r := range results {
		if r.Updated {
			s.Updates++
		}
		if r.Error != "" {
			s.EmitErrors++
		}
		switch r.Outcome {
		case controller.OutcomeIdleProbe:
			s.Probes++
			s.IdleProbes++
		case controller.OutcomePERProbe:
			s.Probes++
			s.PERProbes++
		case controller.OutcomeData:
			s.DataCommands++
			if r.Decision != nil {
				s.BeamHistogram[r.Decision.BeamAngle]++
			}
		case controller.OutcomeStale:
			s.Stale++
		case controller.OutcomeNoData:
			s.NoData++
		case controller.OutcomeExpired:
			s.Expired++
		}
	}
	if final != nil {
		s.Final = final.Snapshot()
		s.Eval = eval.NewEvalHarness(config).Run(s.Final)
	}
	return s
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// #endregion summarize
