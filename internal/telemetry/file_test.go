package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempGateway(t *testing.T) (*FileGateway, FileConfig) {
	t.Helper()
	cfg := DefaultFileConfig(filepath.Join(t.TempDir(), "data"))
	g, err := NewFileGateway(cfg)
	if err != nil {
		t.Fatalf("NewFileGateway: %v", err)
	}
	return g, cfg
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFileGateway_MissingFileIsNoData(t *testing.T) {
	g, _ := tempGateway(t)
	if _, err := g.LoadLatestRadar(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := g.LoadLatestComm(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestFileGateway_ReadsLastRowOnce(t *testing.T) {
	g, cfg := tempGateway(t)
	ctx := context.Background()
	path := filepath.Join(cfg.Dir, cfg.RadarLog)

	appendLine(t, path, "22:10:39:001,0.02,23,5.1,-46.6")
	appendLine(t, path, "22:10:39:050,0.03,24,5.2,4.6")

	r, err := g.LoadLatestRadar(ctx)
	if err != nil {
		t.Fatalf("LoadLatestRadar: %v", err)
	}
	if r.Timestamp != "22:10:39:050" || r.EstimatedAngle != 4.6 || r.Range != 5.2 {
		t.Fatalf("unexpected radar row: %+v", r)
	}

	if _, err := g.LoadLatestRadar(ctx); !errors.Is(err, ErrNoData) {
		t.Fatalf("unchanged file should be ErrNoData, got %v", err)
	}

	appendLine(t, path, "22:10:39:100,0.03,24,5.2,5.4")
	r, err = g.LoadLatestRadar(ctx)
	if err != nil {
		t.Fatalf("LoadLatestRadar after append: %v", err)
	}
	if r.EstimatedAngle != 5.4 {
		t.Fatalf("expected 5.4, got %f", r.EstimatedAngle)
	}
}

func TestFileGateway_CommRow(t *testing.T) {
	g, cfg := tempGateway(t)
	appendLine(t, filepath.Join(cfg.Dir, cfg.CommLog), "22:10:39:001,2,1,23,21.5,34.3,2.3,0.8")

	c, err := g.LoadLatestComm(context.Background())
	if err != nil {
		t.Fatalf("LoadLatestComm: %v", err)
	}
	want := CommMeasurement{
		Timestamp: "22:10:39:001", PacketType: PacketData, CRC: 1,
		SNR: 23, DataSNR: 21.5, Throughput: 34.3, PER: 2.3, RewardValue: 0.8,
	}
	if c != want {
		t.Fatalf("expected %+v, got %+v", want, c)
	}
}

func TestFileGateway_MalformedRow(t *testing.T) {
	g, cfg := tempGateway(t)
	appendLine(t, filepath.Join(cfg.Dir, cfg.CommLog), "22:10:39:001,2,1")

	_, err := g.LoadLatestComm(context.Background())
	if err == nil || errors.Is(err, ErrNoData) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := g.LoadLatestComm(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("short row should be reported once, got %v", err)
	}
}

func TestFileGateway_BadCSVReportedOnce(t *testing.T) {
	g, cfg := tempGateway(t)
	ctx := context.Background()
	path := filepath.Join(cfg.Dir, cfg.RadarLog)
	appendLine(t, path, `"22:10:39:001,0.02,23,5.1,-46.6`)

	_, err := g.LoadLatestRadar(ctx)
	if err == nil || errors.Is(err, ErrNoData) {
		t.Fatalf("expected csv error, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := g.LoadLatestRadar(ctx); !errors.Is(err, ErrNoData) {
			t.Fatalf("poll %d: expected ErrNoData for the same bad row, got %v", i, err)
		}
	}

	appendLine(t, path, "22:10:39:050,0.03,24,5.2,4.6")
	r, err := g.LoadLatestRadar(ctx)
	if err != nil {
		t.Fatalf("LoadLatestRadar after good row: %v", err)
	}
	if r.EstimatedAngle != 4.6 {
		t.Fatalf("expected 4.6, got %f", r.EstimatedAngle)
	}
}

func TestFileGateway_Writes(t *testing.T) {
	g, cfg := tempGateway(t)
	ctx := context.Background()

	for _, cmd := range []PacketCommand{
		{Timestamp: "t1", Type: PacketProbe, Size: 7},
		{Timestamp: "t2", Type: PacketData, Size: 400},
	} {
		if err := g.EmitPacketCommand(ctx, cmd); err != nil {
			t.Fatalf("EmitPacketCommand: %v", err)
		}
	}
	if err := g.EmitRadarDecision(ctx, RadarDecision{Timestamp: "t2", Angle: -12}); err != nil {
		t.Fatalf("EmitRadarDecision: %v", err)
	}
	if err := g.AppendPlotSample(ctx, PlotSample{PacketType: PacketData, RadarAngle: 5, BeamAngle: 4, DataSNR: 20.5, CRC: 1, Throughput: 30}); err != nil {
		t.Fatalf("AppendPlotSample: %v", err)
	}

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(cfg.Dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return strings.TrimSpace(string(data))
	}

	if got := read(cfg.PacketData); got != "t2,2,400" {
		t.Errorf("packet data should hold only the latest command, got %q", got)
	}
	if got := read(cfg.PacketLog); got != "t1,1,7\nt2,2,400" {
		t.Errorf("packet log should hold every command, got %q", got)
	}
	if got := read(cfg.RadarData); got != "t2,-12" {
		t.Errorf("unexpected radar data %q", got)
	}
	if got := read(cfg.PlotLog); got != "2,5,4,20.5,1,30" {
		t.Errorf("unexpected plot log %q", got)
	}
}
