package signals

// #region config
// ShaperConfig holds the reward shaping and angle bucketing parameters.
type ShaperConfig struct {
	SNRNorm     float64 // data SNR that maps to a unit link-quality factor (default 20)
	AngleOffset int     // bucket index of 0 degrees (default 90)
	NContexts   int     // radar angle buckets
	NActions    int     // beamforming angle buckets
}

// DefaultShaperConfig returns the 1-degree, [-90, 90] layout.
func DefaultShaperConfig() ShaperConfig {
	return ShaperConfig{
		SNRNorm:     20,
		AngleOffset: 90,
		NContexts:   181,
		NActions:    181,
	}
}

// #endregion config

// #region bucket
// Bucket is a discretized angle with a flag set when it had to be clamped.
type Bucket struct {
	Index   int
	Clamped bool
	Raw     int // unclamped index, for logging
}

// #endregion bucket
