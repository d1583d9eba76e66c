package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/controller"
	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region fixture-types
// Fixture is a recorded telemetry session with the counts a replay must reproduce.
type Fixture struct {
	Description string          `json:"description"`
	Config      FixtureConfig   `json:"config"`
	Frames      []FixtureFrame  `json:"frames"`
	Expected    FixtureExpected `json:"expected"`
}

// FixtureConfig overrides controller defaults. Zero values keep the default.
type FixtureConfig struct {
	ProbeIntervalMs   int     `json:"probe_interval_ms,omitempty"`
	PERThreshold      float64 `json:"per_threshold,omitempty"`
	MaxTelemetryAgeMs int     `json:"max_telemetry_age_ms,omitempty"`
	Exploration       float64 `json:"exploration,omitempty"`
}

// FixtureFrame is one tick: the wall time elapsed since the previous frame
// and whatever readings arrived in between.
type FixtureFrame struct {
	ElapsedMs       int                         `json:"elapsed_ms"`
	Radar           *telemetry.RadarMeasurement `json:"radar,omitempty"`
	Comm            *telemetry.CommMeasurement  `json:"comm,omitempty"`
	ExpectedOutcome string                      `json:"expected_outcome,omitempty"`
}

// FixtureExpected holds the session totals and learned cells to check.
type FixtureExpected struct {
	Updates      int            `json:"updates"`
	Probes       int            `json:"probes"`
	DataCommands int            `json:"data_commands"`
	Stale        int            `json:"stale"`
	NoData       int            `json:"no_data"`
	Expired      int            `json:"expired"`
	Cells        []ExpectedCell `json:"cells,omitempty"`
}

// ExpectedCell is one (context, action) entry of the final model.
type ExpectedCell struct {
	Context  int     `json:"context"`
	Action   int     `json:"action"`
	Estimate float64 `json:"estimate"`
	Count    float64 `json:"count"`
}

// #endregion fixture-types

// #region load
// LoadFixture reads and parses a fixture JSON file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Frames) == 0 {
		return nil, fmt.Errorf("fixture %s has no frames", path)
	}
	return &f, nil
}

// #endregion load

// #region convert
// ReplayConfig applies the fixture overrides to DefaultReplayConfig.
func (f *Fixture) ReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if f.Config.ProbeIntervalMs > 0 {
		cfg.Controller.Gate.ProbeInterval = time.Duration(f.Config.ProbeIntervalMs) * time.Millisecond
	}
	if f.Config.PERThreshold > 0 {
		cfg.Controller.Gate.PERThreshold = f.Config.PERThreshold
	}
	if f.Config.MaxTelemetryAgeMs > 0 {
		cfg.Controller.MaxTelemetryAge = time.Duration(f.Config.MaxTelemetryAgeMs) * time.Millisecond
	}
	if f.Config.Exploration > 0 {
		cfg.Bandit.Exploration = f.Config.Exploration
	}
	return cfg
}

// ReplayFrames converts fixture frames to harness frames.
func (f *Fixture) ReplayFrames() []Frame {
	frames := make([]Frame, len(f.Frames))
	for i, ff := range f.Frames {
		frames[i] = Frame{
			Elapsed: time.Duration(ff.ElapsedMs) * time.Millisecond,
			Radar:   ff.Radar,
			Comm:    ff.Comm,
		}
	}
	return frames
}

// Check compares a replay against the fixture and returns one line per
// mismatch. An empty result means the replay reproduced the session.
func (f *Fixture) Check(results []ReplayResult, summary ReplaySummary) []string {
	var diffs []string
	for i, ff := range f.Frames {
		if ff.ExpectedOutcome == "" || i >= len(results) {
			continue
		}
		if got := results[i].Outcome; got != controller.Outcome(ff.ExpectedOutcome) {
			diffs = append(diffs, fmt.Sprintf("frame %d: outcome %s, want %s", i, got, ff.ExpectedOutcome))
		}
	}

	exp := f.Expected
	counts := []struct {
		name      string
		got, want int
	}{
		{"updates", summary.Updates, exp.Updates},
		{"probes", summary.Probes, exp.Probes},
		{"data_commands", summary.DataCommands, exp.DataCommands},
		{"stale", summary.Stale, exp.Stale},
		{"no_data", summary.NoData, exp.NoData},
		{"expired", summary.Expired, exp.Expired},
	}
	for _, c := range counts {
		if c.got != c.want {
			diffs = append(diffs, fmt.Sprintf("%s: got %d, want %d", c.name, c.got, c.want))
		}
	}

	for _, cell := range exp.Cells {
		got, ok := summary.Cell(cell.Context, cell.Action)
		if !ok {
			diffs = append(diffs, fmt.Sprintf("cell (%d,%d): out of range", cell.Context, cell.Action))
			continue
		}
		if !closeTo(got.Estimate, cell.Estimate) || got.Count != cell.Count {
			diffs = append(diffs, fmt.Sprintf("cell (%d,%d): estimate %.6f count %.0f, want %.6f count %.0f",
				cell.Context, cell.Action, got.Estimate, got.Count, cell.Estimate, cell.Count))
		}
	}
	return diffs
}

// #endregion convert
