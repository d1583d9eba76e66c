package bandit

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// #region model
// Model is a contextual UCB bandit: one row of action-value estimates per
// context. Readers (HTTP inspection, checkpointing) may run concurrently with
// the single writer, so every access goes through mu.
type Model struct {
	mu     sync.RWMutex
	config Config

	totalPlays *mat.VecDense // per context, starts at 1
	counts     *mat.Dense    // context x action
	estimates  *mat.Dense    // context x action running means
}

// New creates a cold model: all estimates and counts zero, total plays one.
func New(config Config) (*Model, error) {
	if config.NContexts <= 0 || config.NActions <= 0 {
		return nil, fmt.Errorf("bandit: invalid shape %dx%d", config.NContexts, config.NActions)
	}
	m := &Model{config: config}
	m.reset()
	return m, nil
}

func (m *Model) reset() {
	plays := make([]float64, m.config.NContexts)
	for i := range plays {
		plays[i] = 1
	}
	m.totalPlays = mat.NewVecDense(m.config.NContexts, plays)
	m.counts = mat.NewDense(m.config.NContexts, m.config.NActions, nil)
	m.estimates = mat.NewDense(m.config.NContexts, m.config.NActions, nil)
}

// Config returns the model's configuration.
func (m *Model) Config() Config {
	return m.config
}

// #endregion model

// #region vectors
// EstimateVector returns a copy of the running-mean row for context.
func (m *Model) EstimateVector(context int) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := clampIndex(context, m.config.NContexts)
	return mat.Row(nil, c, m.estimates)
}

// UpperConfidenceVector returns est + c*sqrt(2 ln N / (1 + n)) for every action.
// The +1 keeps the bonus finite for untried actions.
func (m *Model) UpperConfidenceVector(context int) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ucbRow(clampIndex(context, m.config.NContexts))
}

func (m *Model) ucbRow(c int) []float64 {
	row := mat.Row(nil, c, m.estimates)
	logPlays := 2 * math.Log(m.totalPlays.AtVec(c))
	for a := range row {
		row[a] += m.config.Exploration * math.Sqrt(logPlays/(1+m.counts.At(c, a)))
	}
	return row
}

// SelectAction returns the action with the highest upper confidence bound,
// lowest index on ties.
func (m *Model) SelectAction(context int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return floats.MaxIdx(m.ucbRow(clampIndex(context, m.config.NContexts)))
}

// #endregion vectors

// #region update
// Update folds one observed reward into the (context, action) running mean.
// It must be applied exactly once per completed decision round.
func (m *Model) Update(context, action int, reward float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := clampIndex(context, m.config.NContexts)
	a := clampIndex(action, m.config.NActions)

	m.totalPlays.SetVec(c, m.totalPlays.AtVec(c)+1)
	n := m.counts.At(c, a) + 1
	m.counts.Set(c, a, n)
	q := m.estimates.At(c, a)
	m.estimates.Set(c, a, q+(reward-q)/n)
}

// TotalPlays returns the play count for context.
func (m *Model) TotalPlays(context int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalPlays.AtVec(clampIndex(context, m.config.NContexts))
}

// ActionCount returns how many rewards were applied to (context, action).
func (m *Model) ActionCount(context, action int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts.At(clampIndex(context, m.config.NContexts), clampIndex(action, m.config.NActions))
}

// Estimate returns the running mean for (context, action).
func (m *Model) Estimate(context, action int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.estimates.At(clampIndex(context, m.config.NContexts), clampIndex(action, m.config.NActions))
}

// #endregion update

// #region persistence
// Snapshot captures a deep copy of all tables under the read lock.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		NContexts:    m.config.NContexts,
		NActions:     m.config.NActions,
		Estimates:    append([]float64(nil), m.estimates.RawMatrix().Data...),
		TotalPlays:   append([]float64(nil), m.totalPlays.RawVector().Data...),
		ActionCounts: append([]float64(nil), m.counts.RawMatrix().Data...),
	}
}

// Restore replaces all in-memory state with s. No merge is attempted.
// Total plays below one are raised to one so the log term stays defined.
func (m *Model) Restore(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.NContexts != m.config.NContexts || s.NActions != m.config.NActions {
		return fmt.Errorf("%w: model %dx%d, snapshot %dx%d", ErrShapeMismatch,
			m.config.NContexts, m.config.NActions, s.NContexts, s.NActions)
	}

	plays := append([]float64(nil), s.TotalPlays...)
	for i, p := range plays {
		if p < 1 || math.IsNaN(p) {
			plays[i] = 1
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalPlays = mat.NewVecDense(s.NContexts, plays)
	m.counts = mat.NewDense(s.NContexts, s.NActions, append([]float64(nil), s.ActionCounts...))
	m.estimates = mat.NewDense(s.NContexts, s.NActions, append([]float64(nil), s.Estimates...))
	return nil
}

// #endregion persistence

// #region helpers
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// #endregion helpers
