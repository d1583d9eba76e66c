package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/replay"
	"github.com/danielpatrickdp/beam-controller/internal/state"
)

// #region main
func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	dbPath := flag.String("db", "", "optional snapshot database to warm-start from")
	version := flag.String("version", "", "snapshot version to start from (default: active)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of text")
	verbose := flag.Bool("v", false, "log every tick")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--db path --version id] [--json] [-v]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *dbPath, *version, *jsonOut, *verbose))
}

// #endregion main

// #region run
type output struct {
	Description string                `json:"description"`
	StartFrom   string                `json:"start_from"`
	Summary     replay.ReplaySummary  `json:"summary"`
	Results     []replay.ReplayResult `json:"results"`
	Mismatches  []string              `json:"mismatches"`
}

func run(fixturePath, dbPath, version string, jsonOut, verbose bool) int {
	ctx := context.Background()
	fixture, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	start, startID, err := loadStart(ctx, dbPath, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load start snapshot: %v\n", err)
		return 2
	}

	log := logging.Noop()
	if verbose {
		log = logging.New(logging.Config{Level: "debug", Format: "text", Output: os.Stderr})
	}

	cfg := fixture.ReplayConfig()
	results, model, err := replay.Replay(ctx, start, fixture.ReplayFrames(), cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}
	summary := replay.Summarize(results, model, cfg.Eval)

	var mismatches []string
	if start == nil {
		mismatches = fixture.Check(results, summary)
	}

	out := output{
		Description: fixture.Description,
		StartFrom:   startID,
		Summary:     summary,
		Results:     results,
		Mismatches:  mismatches,
	}
	if jsonOut {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal json: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
	} else {
		printText(out)
	}

	if len(mismatches) > 0 || !summary.Eval.Passed {
		return 1
	}
	return 0
}

// loadStart returns nil for a cold start when no database is given.
func loadStart(ctx context.Context, dbPath, version string) (*bandit.Snapshot, string, error) {
	if dbPath == "" {
		return nil, "cold", nil
	}
	store, err := state.NewStore(dbPath)
	if err != nil {
		return nil, "", err
	}
	defer store.Close()

	var rec state.SnapshotRecord
	if version != "" {
		rec, err = store.GetVersion(ctx, version)
	} else {
		rec, err = store.GetCurrent(ctx)
	}
	if err != nil {
		return nil, "", err
	}
	return &rec.Snapshot, rec.VersionID, nil
}

// #endregion run

// #region output
func printText(out output) {
	s := out.Summary
	fmt.Printf("Fixture:  %s\n", out.Description)
	fmt.Printf("Start:    %s\n", out.StartFrom)
	fmt.Printf("Frames:   %d\n\n", s.TotalFrames)

	fmt.Printf("%-6s  %-10s  %-7s  %8s  %s\n", "Frame", "Outcome", "Updated", "Reward", "Beam")
	for _, r := range out.Results {
		beam := "-"
		if r.Decision != nil {
			beam = fmt.Sprintf("%d", r.Decision.BeamAngle)
		}
		fmt.Printf("%-6d  %-10s  %-7v  %8.4f  %s\n", r.Index, r.Outcome, r.Updated, r.Reward, beam)
	}

	fmt.Printf("\nUpdates: %d  Data: %d  Probes: %d (idle %d, per %d)  Stale: %d  NoData: %d  Expired: %d  EmitErrors: %d\n",
		s.Updates, s.DataCommands, s.Probes, s.IdleProbes, s.PERProbes, s.Stale, s.NoData, s.Expired, s.EmitErrors)

	angles := make([]int, 0, len(s.BeamHistogram))
	for a := range s.BeamHistogram {
		angles = append(angles, a)
	}
	sort.Ints(angles)
	if len(angles) > 0 {
		fmt.Printf("\nBeam angles:\n")
		for _, a := range angles {
			fmt.Printf("  %4d deg  %d\n", a, s.BeamHistogram[a])
		}
	}

	fmt.Printf("\nEval: %s\n", s.Eval.Reason)
	if len(out.Mismatches) == 0 {
		if out.StartFrom == "cold" {
			fmt.Println("Fixture expectations: all matched")
		}
		return
	}
	fmt.Printf("Fixture expectations: %d mismatches\n", len(out.Mismatches))
	for _, m := range out.Mismatches {
		fmt.Printf("  %s\n", m)
	}
}

// #endregion output
