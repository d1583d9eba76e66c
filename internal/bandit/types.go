package bandit

import "errors"

// ErrShapeMismatch is returned when a snapshot does not fit the model's dimensions.
var ErrShapeMismatch = errors.New("bandit: snapshot shape mismatch")

// #region config
// Config sizes the context/action tables and sets the exploration weight.
type Config struct {
	NContexts   int     // radar angle buckets
	NActions    int     // beamforming angle buckets
	Exploration float64 // c in est + c*sqrt(2 ln N / (1 + n))
}

// DefaultConfig returns 1-degree buckets over [-90, 90] and c = 0.5.
func DefaultConfig() Config {
	return Config{
		NContexts:   181,
		NActions:    181,
		Exploration: 0.5,
	}
}

// #endregion config

// #region snapshot
// Snapshot is a detached copy of the model tables. Estimates and ActionCounts
// are row-major NContexts x NActions.
type Snapshot struct {
	NContexts    int
	NActions     int
	Estimates    []float64
	TotalPlays   []float64
	ActionCounts []float64
}

// Validate checks the slice lengths against the declared shape.
func (s Snapshot) Validate() error {
	if s.NContexts <= 0 || s.NActions <= 0 {
		return ErrShapeMismatch
	}
	cells := s.NContexts * s.NActions
	if len(s.Estimates) != cells || len(s.ActionCounts) != cells || len(s.TotalPlays) != s.NContexts {
		return ErrShapeMismatch
	}
	return nil
}

// #endregion snapshot
