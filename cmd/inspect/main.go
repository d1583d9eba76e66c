package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/eval"
	"github.com/danielpatrickdp/beam-controller/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("BEAM_DB", ""), "path to the snapshot database")
	last := flag.Int("last", 20, "show N most recent versions")
	version := flag.String("version", "", "show one version (default: active)")
	ctxIdx := flag.Int("context", -1, "show estimates and UCB for one context index")
	offset := flag.Int("offset", 90, "bucket index of 0 degrees")
	exploration := flag.Float64("exploration", bandit.DefaultConfig().Exploration, "UCB exploration weight for derived values")
	rollback := flag.String("rollback", "", "make this version active")
	exportDir := flag.String("export-dir", "", "write ucb_info.csv and ucb_mean_info.csv here")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/beam_state.db [--last N] [--version id] [--context N] [--rollback id] [--export-dir dir] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch {
	case *rollback != "":
		err = runRollback(ctx, store, *rollback)
	case *version != "" || *ctxIdx >= 0 || *exportDir != "":
		err = runDetailMode(ctx, store, detailOptions{
			versionID:   *version,
			context:     *ctxIdx,
			offset:      *offset,
			exploration: *exploration,
			exportDir:   *exportDir,
			jsonOut:     *jsonOut,
		})
	default:
		err = runListMode(ctx, store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersions(ctx, last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}
	if jsonOut {
		return printJSON(versions)
	}

	fmt.Printf("%-10s  %-10s  %-6s  %8s  %9s  %s\n", "Version", "Parent", "Active", "Rounds", "Shape", "Time")
	fmt.Printf("%-10s+-%-10s+-%-6s+-%8s+-%9s+-%s\n",
		"----------", "----------", "------", "--------", "---------", "--------------------")
	for _, v := range versions {
		active := ""
		if v.Active {
			active = "*"
		}
		parent := shortID(v.ParentID)
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("%-10s  %-10s  %-6s  %8d  %9s  %s\n",
			shortID(v.VersionID), parent, active, v.Rounds,
			fmt.Sprintf("%dx%d", v.NContexts, v.NActions),
			v.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOptions struct {
	versionID   string
	context     int
	offset      int
	exploration float64
	exportDir   string
	jsonOut     bool
}

type detailOutput struct {
	VersionID string                `json:"version_id"`
	ParentID  string                `json:"parent_id,omitempty"`
	Rounds    int                   `json:"rounds"`
	CreatedAt string                `json:"created_at"`
	Eval      eval.EvalResult       `json:"eval"`
	Visited   []eval.ContextSummary `json:"visited"`
	Context   *contextDetail        `json:"context,omitempty"`
}

type contextDetail struct {
	Summary   eval.ContextSummary `json:"summary"`
	Estimates []float64           `json:"estimates"`
	Counts    []float64           `json:"counts"`
	UCB       []float64           `json:"ucb"`
}

func runDetailMode(ctx context.Context, store *state.Store, o detailOptions) error {
	var (
		rec state.SnapshotRecord
		err error
	)
	if o.versionID != "" {
		rec, err = store.GetVersion(ctx, o.versionID)
	} else {
		rec, err = store.GetCurrent(ctx)
	}
	if err != nil {
		return err
	}

	m, err := eval.ModelFromSnapshot(rec.Snapshot, o.exploration)
	if err != nil {
		return fmt.Errorf("rebuild model: %w", err)
	}

	out := detailOutput{
		VersionID: rec.VersionID,
		ParentID:  rec.ParentID,
		Rounds:    rec.Rounds,
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Eval:      eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(rec.Snapshot),
	}
	for _, cs := range eval.Summarize(m, o.offset).Contexts {
		if cs.Plays > 1 {
			out.Visited = append(out.Visited, cs)
		}
	}
	if o.context >= 0 {
		if o.context >= rec.Snapshot.NContexts {
			return fmt.Errorf("context %d out of range [0,%d)", o.context, rec.Snapshot.NContexts)
		}
		counts := make([]float64, rec.Snapshot.NActions)
		for a := range counts {
			counts[a] = m.ActionCount(o.context, a)
		}
		out.Context = &contextDetail{
			Summary:   eval.SummarizeContext(m, o.context, o.offset),
			Estimates: m.EstimateVector(o.context),
			Counts:    counts,
			UCB:       m.UpperConfidenceVector(o.context),
		}
	}

	if o.exportDir != "" {
		if err := exportCSV(o.exportDir, m); err != nil {
			return err
		}
	}

	if o.jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Version:  %s\n", out.VersionID)
	fmt.Printf("Parent:   %s\n", out.ParentID)
	fmt.Printf("Created:  %s\n", out.CreatedAt)
	fmt.Printf("Rounds:   %d\n", out.Rounds)
	fmt.Printf("Eval:     %s\n", out.Eval.Reason)

	fmt.Printf("\nVisited contexts (%d):\n", len(out.Visited))
	fmt.Printf("  %6s  %6s  %5s  %7s  %10s  %7s\n", "Radar", "Plays", "Arms", "Greedy", "Estimate", "UCB")
	for _, cs := range out.Visited {
		fmt.Printf("  %6d  %6.0f  %5d  %7d  %10.4f  %7d\n",
			cs.RadarAngle, cs.Plays, cs.ArmsTried, cs.GreedyAngle, cs.GreedyEstimate, cs.UCBAngle)
	}

	if d := out.Context; d != nil {
		fmt.Printf("\nContext %d (radar %d deg), tried arms:\n", d.Summary.Context, d.Summary.RadarAngle)
		fmt.Printf("  %6s  %6s  %10s  %10s\n", "Beam", "Count", "Estimate", "UCB")
		for a, n := range d.Counts {
			if n == 0 {
				continue
			}
			fmt.Printf("  %6d  %6.0f  %10.4f  %10.4f\n", a-o.offset, n, d.Estimates[a], d.UCB[a])
		}
	}
	if o.exportDir != "" {
		fmt.Printf("\nExported CSV to %s\n", o.exportDir)
	}
	return nil
}

// #endregion detail-mode

// #region rollback

func runRollback(ctx context.Context, store *state.Store, versionID string) error {
	if err := store.Rollback(ctx, versionID); err != nil {
		return err
	}
	fmt.Printf("active version is now %s\n", versionID)
	return nil
}

// #endregion rollback

// #region output

func exportCSV(dir string, m *bandit.Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	files := []struct {
		name  string
		write func(*os.File) error
	}{
		{"ucb_info.csv", func(f *os.File) error { return eval.WriteUCBInfo(f, m) }},
		{"ucb_mean_info.csv", func(f *os.File) error { return eval.WriteMeanInfo(f, m) }},
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		werr := file.write(f)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
		if cerr != nil {
			return fmt.Errorf("close %s: %w", path, cerr)
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion output
