package signals

import (
	"math"

	"github.com/danielpatrickdp/beam-controller/internal/telemetry"
)

// #region shaper
// Shaper turns raw telemetry into the bandit's reward and index space.
type Shaper struct {
	config ShaperConfig
}

// NewShaper creates a Shaper. A non-positive SNRNorm falls back to 20.
func NewShaper(config ShaperConfig) *Shaper {
	if config.SNRNorm <= 0 {
		config.SNRNorm = 20
	}
	return &Shaper{config: config}
}

// Config returns the shaper configuration.
func (s *Shaper) Config() ShaperConfig {
	return s.config
}

// #endregion shaper

// #region reward
// Reward discounts the link's reward value by normalised data SNR.
func (s *Shaper) Reward(comm telemetry.CommMeasurement) float64 {
	return comm.RewardValue * comm.DataSNR / s.config.SNRNorm
}

// #endregion reward

// #region buckets
// Context maps a radar angle in degrees to a context bucket.
// Rounding is half-to-even to match the radar tooling.
func (s *Shaper) Context(angle float64) Bucket {
	return bucket(angle, s.config.AngleOffset, s.config.NContexts)
}

// Action maps a beamforming angle in degrees to an action bucket.
func (s *Shaper) Action(angle float64) Bucket {
	return bucket(angle, s.config.AngleOffset, s.config.NActions)
}

// RadarAngle converts a context index back to whole degrees.
func (s *Shaper) RadarAngle(context int) int {
	return context - s.config.AngleOffset
}

// BeamAngle converts an action index back to whole degrees.
func (s *Shaper) BeamAngle(action int) int {
	return action - s.config.AngleOffset
}

func bucket(angle float64, offset, n int) Bucket {
	if math.IsNaN(angle) {
		return Bucket{Index: offset, Clamped: true, Raw: offset}
	}
	r := math.RoundToEven(angle) + float64(offset)
	switch {
	case r < 0:
		return Bucket{Index: 0, Clamped: true, Raw: saturate(r)}
	case r >= float64(n):
		return Bucket{Index: n - 1, Clamped: true, Raw: saturate(r)}
	}
	raw := int(r)
	return Bucket{Index: raw, Raw: raw}
}

// saturate converts r to int, pinning values outside the int range to its ends.
func saturate(r float64) int {
	switch {
	case r >= math.MaxInt64:
		return math.MaxInt
	case r <= math.MinInt64:
		return math.MinInt
	}
	return int(r)
}

// #endregion buckets
