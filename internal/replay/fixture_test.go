package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func runFixture(t *testing.T, name string) (*Fixture, []ReplayResult, ReplaySummary) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	cfg := f.ReplayConfig()
	results, model, err := Replay(context.Background(), nil, f.ReplayFrames(), cfg, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return f, results, Summarize(results, model, cfg.Eval)
}

// #region fixture-tests
func TestFixture_Session(t *testing.T) {
	f, results, summary := runFixture(t, "session.json")
	if len(results) != len(f.Frames) {
		t.Fatalf("expected %d results, got %d", len(f.Frames), len(results))
	}
	for _, d := range f.Check(results, summary) {
		t.Error(d)
	}
	if summary.IdleProbes != 1 || summary.PERProbes != 1 {
		t.Fatalf("probe split: idle=%d per=%d", summary.IdleProbes, summary.PERProbes)
	}
	if !summary.Eval.Passed {
		t.Fatalf("final model failed validation: %s", summary.Eval.Reason)
	}
	// Every data packet on a cold model points at action 0.
	if summary.BeamHistogram[-90] != 5 {
		t.Fatalf("beam histogram = %v", summary.BeamHistogram)
	}
}

func TestFixture_Expired(t *testing.T) {
	f, results, summary := runFixture(t, "expired.json")
	for _, d := range f.Check(results, summary) {
		t.Error(d)
	}
	if !results[3].Updated || results[3].Reward != 0.5 {
		t.Fatalf("expected the round to be rewarded after the gap, got %+v", results[3])
	}
}

func TestFixture_ConfigOverrides(t *testing.T) {
	f := &Fixture{Config: FixtureConfig{ProbeIntervalMs: 500, PERThreshold: 12, MaxTelemetryAgeMs: 75, Exploration: 1.5}}
	cfg := f.ReplayConfig()
	if cfg.Controller.Gate.ProbeInterval != 500*time.Millisecond {
		t.Fatalf("probe interval = %s", cfg.Controller.Gate.ProbeInterval)
	}
	if cfg.Controller.Gate.PERThreshold != 12 {
		t.Fatalf("per threshold = %v", cfg.Controller.Gate.PERThreshold)
	}
	if cfg.Controller.MaxTelemetryAge != 75*time.Millisecond {
		t.Fatalf("max age = %s", cfg.Controller.MaxTelemetryAge)
	}
	if cfg.Bandit.Exploration != 1.5 {
		t.Fatalf("exploration = %v", cfg.Bandit.Exploration)
	}

	defaults := (&Fixture{}).ReplayConfig()
	if defaults != DefaultReplayConfig() {
		t.Fatal("empty fixture config should keep defaults")
	}
}

func TestFixture_CheckReportsMismatch(t *testing.T) {
	f, results, summary := runFixture(t, "session.json")
	f.Expected.Updates++
	f.Frames[1].ExpectedOutcome = "stale"

	diffs := f.Check(results, summary)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %v", diffs)
	}
	if !strings.Contains(diffs[0], "frame 1") || !strings.Contains(diffs[1], "updates") {
		t.Fatalf("unexpected diffs %v", diffs)
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(bad); err == nil || !strings.Contains(err.Error(), "parse fixture") {
		t.Fatalf("expected parse error, got %v", err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"frames": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(empty); err == nil {
		t.Fatal("expected error for fixture without frames")
	}
}

// #endregion fixture-tests
