package pid

import (
	"math"

	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region policy
// PolicyConfig maps PID output onto a transmission.
type PolicyConfig struct {
	MaxSize     int     // cap on data packet size
	SizeScale   float64 // bytes per unit of output
	MinimalSize int     // probe size for negative output
}

// DefaultPolicyConfig returns the reference mapping: 10 bytes per unit, capped at 300.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxSize:     300,
		SizeScale:   10,
		MinimalSize: 10,
	}
}

// Packet turns an output into a command. Non-negative output sends data
// sized min(MaxSize, SizeScale*floor(output)); negative output sends a probe.
func (p PolicyConfig) Packet(output float64, ts string) telemetry.PacketCommand {
	if output < 0 || math.IsNaN(output) {
		return telemetry.PacketCommand{Timestamp: ts, Type: telemetry.PacketProbe, Size: p.MinimalSize}
	}
	size := p.SizeScale * math.Floor(output)
	if size > float64(p.MaxSize) {
		size = float64(p.MaxSize)
	}
	return telemetry.PacketCommand{Timestamp: ts, Type: telemetry.PacketData, Size: int(size)}
}

// #endregion policy
