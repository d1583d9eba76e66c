package telemetry

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// #region file-config
// FileConfig names the delimited files exchanged with the radio processes.
type FileConfig struct {
	Dir        string
	RadarLog   string // read: latest row is the current radar estimate
	CommLog    string // read: latest row is the current link report
	PacketData string // write: latest packet command (overwritten)
	PacketLog  string // write: every packet command (appended)
	RadarData  string // write: latest beamforming decision (overwritten)
	PlotLog    string // write: diagnostic samples (appended)
}

// DefaultFileConfig returns the standard file names under dir.
func DefaultFileConfig(dir string) FileConfig {
	return FileConfig{
		Dir:        dir,
		RadarLog:   "radar_log.csv",
		CommLog:    "comm_log.csv",
		PacketData: "packet_data.csv",
		PacketLog:  "packet_log.csv",
		RadarData:  "radar_data.csv",
		PlotLog:    "plot_log.csv",
	}
}

// #endregion file-config

// tailWindow bounds how much of a log file is read to find its last row.
const tailWindow = 4096

// #region file-gateway
// FileGateway implements Gateway over CSV files in a shared directory.
// A load returns ErrNoData when the file is missing, empty, or its last row
// is unchanged since the previous load.
type FileGateway struct {
	cfg FileConfig

	mu        sync.Mutex
	lastRadar string
	lastComm  string
}

// NewFileGateway creates the directory if needed and returns a gateway.
func NewFileGateway(cfg FileConfig) (*FileGateway, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileGateway{cfg: cfg}, nil
}

// LoadLatestRadar parses the last row of the radar log.
func (g *FileGateway) LoadLatestRadar(ctx context.Context) (RadarMeasurement, error) {
	row, err := g.readNew(g.cfg.RadarLog, &g.lastRadar)
	if err != nil {
		return RadarMeasurement{}, err
	}
	return parseRadarRow(row)
}

// LoadLatestComm parses the last row of the comm log.
func (g *FileGateway) LoadLatestComm(ctx context.Context) (CommMeasurement, error) {
	row, err := g.readNew(g.cfg.CommLog, &g.lastComm)
	if err != nil {
		return CommMeasurement{}, err
	}
	return parseCommRow(row)
}

// EmitPacketCommand overwrites the packet data file and appends to the packet log.
func (g *FileGateway) EmitPacketCommand(ctx context.Context, cmd PacketCommand) error {
	rec := []string{cmd.Timestamp, strconv.Itoa(int(cmd.Type)), strconv.Itoa(cmd.Size)}
	if err := g.writeRow(g.cfg.PacketData, rec, false); err != nil {
		return err
	}
	return g.writeRow(g.cfg.PacketLog, rec, true)
}

// EmitRadarDecision overwrites the radar data file with the chosen angle.
func (g *FileGateway) EmitRadarDecision(ctx context.Context, d RadarDecision) error {
	return g.writeRow(g.cfg.RadarData, []string{d.Timestamp, strconv.Itoa(d.Angle)}, false)
}

// AppendPlotSample appends a diagnostic row to the plot log.
func (g *FileGateway) AppendPlotSample(ctx context.Context, s PlotSample) error {
	return g.writeRow(g.cfg.PlotLog, []string{
		strconv.Itoa(int(s.PacketType)),
		strconv.Itoa(s.RadarAngle),
		strconv.Itoa(s.BeamAngle),
		formatFloat(s.DataSNR),
		strconv.Itoa(s.CRC),
		formatFloat(s.Throughput),
	}, true)
}

// #endregion file-gateway

// #region file-io
func (g *FileGateway) readNew(name string, last *string) ([]string, error) {
	line, err := lastLine(filepath.Join(g.cfg.Dir, name))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if line == *last {
		return nil, ErrNoData
	}
	// a bad row is reported once, not on every poll
	*last = line

	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return rec, nil
}

// lastLine returns the last non-empty line of path, or ErrNoData.
func lastLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoData
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return "", ErrNoData
	}

	start := size - tailWindow
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	buf = bytes.TrimRight(buf, "\r\n ")
	if len(buf) == 0 {
		return "", ErrNoData
	}
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		buf = buf[i+1:]
	}
	return strings.TrimSpace(string(buf)), nil
}

func (g *FileGateway) writeRow(name string, rec []string, appendRow bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendRow {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	path := filepath.Join(g.cfg.Dir, name)
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(rec); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return f.Close()
}

// #endregion file-io

// #region row-parsing
func parseRadarRow(rec []string) (RadarMeasurement, error) {
	if len(rec) < 5 {
		return RadarMeasurement{}, fmt.Errorf("radar row: want 5 fields, got %d", len(rec))
	}
	var r RadarMeasurement
	r.Timestamp = strings.TrimSpace(rec[0])
	vals, err := parseFloats(rec[1:5])
	if err != nil {
		return RadarMeasurement{}, fmt.Errorf("radar row: %w", err)
	}
	r.PeakPower, r.SNREstimate, r.Range, r.EstimatedAngle = vals[0], vals[1], vals[2], vals[3]
	return r, nil
}

func parseCommRow(rec []string) (CommMeasurement, error) {
	if len(rec) < 8 {
		return CommMeasurement{}, fmt.Errorf("comm row: want 8 fields, got %d", len(rec))
	}
	var c CommMeasurement
	c.Timestamp = strings.TrimSpace(rec[0])
	ints, err := parseInts(rec[1:3])
	if err != nil {
		return CommMeasurement{}, fmt.Errorf("comm row: %w", err)
	}
	c.PacketType, c.CRC = PacketType(ints[0]), ints[1]
	vals, err := parseFloats(rec[3:8])
	if err != nil {
		return CommMeasurement{}, fmt.Errorf("comm row: %w", err)
	}
	c.SNR, c.DataSNR, c.Throughput, c.PER, c.RewardValue = vals[0], vals[1], vals[2], vals[3], vals[4]
	return c, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseInts accepts integral floats ("1.0") as written by numeric tooling.
func parseInts(fields []string) ([]int, error) {
	vals, err := parseFloats(fields)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// #endregion row-parsing
