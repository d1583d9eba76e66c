package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// #region errors
var (
	// ErrNoData means a stream has nothing new since the last read.
	ErrNoData = errors.New("telemetry: no new data")
	// ErrExpired means the held fallback reading is older than the allowed age.
	ErrExpired = errors.New("telemetry: fallback reading expired")
)

// #endregion errors

// #region packet-type
// PacketType identifies the shape of a transmission.
type PacketType int

const (
	PacketProbe PacketType = 1 // null data packet, no directional payload
	PacketData  PacketType = 2
)

func (t PacketType) String() string {
	switch t {
	case PacketProbe:
		return "probe"
	case PacketData:
		return "data"
	default:
		return fmt.Sprintf("packet(%d)", int(t))
	}
}

// #endregion packet-type

// #region records
// RadarMeasurement is one radar read: power, SNR, range and estimated angle in degrees.
type RadarMeasurement struct {
	Timestamp      string  `json:"timestamp"`
	PeakPower      float64 `json:"peak_power"`
	SNREstimate    float64 `json:"snr_est"`
	Range          float64 `json:"range"`
	EstimatedAngle float64 `json:"angle"`
}

// CommMeasurement is one communication link report.
type CommMeasurement struct {
	Timestamp   string     `json:"timestamp"`
	PacketType  PacketType `json:"packet_type"`
	CRC         int        `json:"crc"`
	SNR         float64    `json:"snr"`
	DataSNR     float64    `json:"data_snr"`
	Throughput  float64    `json:"throughput"`
	PER         float64    `json:"per"` // percent
	RewardValue float64    `json:"reward"`
}

// PacketCommand tells the transmitter what to send next.
type PacketCommand struct {
	Timestamp string     `json:"timestamp"`
	Type      PacketType `json:"packet_type"`
	Size      int        `json:"packet_size"`
}

// RadarDecision is the beamforming angle handed to the stream encoder.
type RadarDecision struct {
	Timestamp string `json:"timestamp"`
	Angle     int    `json:"angle"`
}

// PlotSample is a diagnostic row; it has no effect on control.
type PlotSample struct {
	PacketType PacketType `json:"packet_type"`
	RadarAngle int        `json:"radar_angle"`
	BeamAngle  int        `json:"beam_angle"`
	DataSNR    float64    `json:"data_snr"`
	CRC        int        `json:"crc"`
	Throughput float64    `json:"throughput"`
}

// #endregion records

// #region gateway
// Gateway is the read/write boundary to the radio side. Loads must not block
// indefinitely; they return ErrNoData when nothing changed since the last read.
type Gateway interface {
	LoadLatestRadar(ctx context.Context) (RadarMeasurement, error)
	LoadLatestComm(ctx context.Context) (CommMeasurement, error)
	EmitPacketCommand(ctx context.Context, cmd PacketCommand) error
	EmitRadarDecision(ctx context.Context, d RadarDecision) error
	AppendPlotSample(ctx context.Context, s PlotSample) error
}

// #endregion gateway

// #region timestamp
// FormatTimestamp renders t as HH:MM:SS:mmm, the format used by the radio logs.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s:%03d", t.Format("15:04:05"), t.Nanosecond()/int(time.Millisecond))
}

// #endregion timestamp
