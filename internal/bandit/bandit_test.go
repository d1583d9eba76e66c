package bandit

import (
	"errors"
	"math"
	"testing"
)

func newModel(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewRejectsEmptyShape(t *testing.T) {
	if _, err := New(Config{NContexts: 0, NActions: 3}); err == nil {
		t.Fatal("expected error for zero contexts")
	}
}

func TestColdModel(t *testing.T) {
	m := newModel(t, DefaultConfig())

	for _, c := range []int{0, 90, 180} {
		if got := m.TotalPlays(c); got != 1 {
			t.Fatalf("context %d: expected total plays 1, got %f", c, got)
		}
	}
	for _, v := range m.EstimateVector(42) {
		if v != 0 {
			t.Fatalf("expected zero estimates, got %f", v)
		}
	}
	// ln(1) = 0, so every bonus is zero and the first action wins the tie.
	if a := m.SelectAction(42); a != 0 {
		t.Fatalf("expected action 0 on a cold context, got %d", a)
	}
}

func TestEndToEndScenario(t *testing.T) {
	m := newModel(t, DefaultConfig())

	for _, r := range []float64{1.0, 2.0, 3.0} {
		m.Update(95, 95, r)
	}

	if got := m.Estimate(95, 95); got != 2.0 {
		t.Fatalf("expected estimate 2.0, got %f", got)
	}
	if got := m.ActionCount(95, 95); got != 3 {
		t.Fatalf("expected count 3, got %f", got)
	}
	if got := m.TotalPlays(95); got != 4 {
		t.Fatalf("expected total plays 4, got %f", got)
	}
	// Other contexts untouched.
	if got := m.TotalPlays(94); got != 1 {
		t.Fatalf("expected neighbour context untouched, got %f", got)
	}
}

func TestMonotonicPlayCounts(t *testing.T) {
	m := newModel(t, Config{NContexts: 4, NActions: 4, Exploration: 0.5})

	for k := 1; k <= 25; k++ {
		m.Update(2, k%4, float64(k))
		if got := m.TotalPlays(2); got != float64(1+k) {
			t.Fatalf("after %d updates expected %d plays, got %f", k, 1+k, got)
		}
	}
}

func TestIncrementalMeanOrderIndependent(t *testing.T) {
	rewards := []float64{0.3, 4.1, -2.0, 7.5, 1.25}
	var sum float64
	for _, r := range rewards {
		sum += r
	}
	mean := sum / float64(len(rewards))

	forward := newModel(t, Config{NContexts: 1, NActions: 2, Exploration: 0.5})
	backward := newModel(t, Config{NContexts: 1, NActions: 2, Exploration: 0.5})
	for i := range rewards {
		forward.Update(0, 1, rewards[i])
		backward.Update(0, 1, rewards[len(rewards)-1-i])
	}

	for name, m := range map[string]*Model{"forward": forward, "backward": backward} {
		if got := m.Estimate(0, 1); math.Abs(got-mean) > 1e-12 {
			t.Fatalf("%s: expected mean %f, got %f", name, mean, got)
		}
	}
	if forward.Estimate(0, 0) != 0 {
		t.Fatal("unplayed arm must keep a zero estimate")
	}
}

func TestUpperConfidenceVector(t *testing.T) {
	m := newModel(t, Config{NContexts: 1, NActions: 3, Exploration: 0.5})
	m.Update(0, 0, 1.0)
	m.Update(0, 0, 1.0)
	m.Update(0, 1, 0.5)

	// total plays = 4, counts = [2, 1, 0]
	logTerm := 2 * math.Log(4)
	want := []float64{
		1.0 + 0.5*math.Sqrt(logTerm/3),
		0.5 + 0.5*math.Sqrt(logTerm/2),
		0.0 + 0.5*math.Sqrt(logTerm/1),
	}
	got := m.UpperConfidenceVector(0)
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("action %d: expected %f, got %f", i, want[i], got[i])
		}
	}

	// Vectors are copies.
	got[0] = 99
	est := m.EstimateVector(0)
	est[0] = 99
	if m.Estimate(0, 0) != 1.0 {
		t.Fatal("mutating a returned vector changed model state")
	}
}

func TestUntriedArmPreferred(t *testing.T) {
	m := newModel(t, Config{NContexts: 1, NActions: 3, Exploration: 0.5})
	// Actions 0 and 2 played once with zero reward: equal estimates,
	// the untried action 1 has the largest bonus.
	m.Update(0, 0, 0)
	m.Update(0, 2, 0)

	if a := m.SelectAction(0); a != 1 {
		t.Fatalf("expected untried action 1, got %d", a)
	}
}

func TestSelectActionFirstMaxOnTie(t *testing.T) {
	m := newModel(t, Config{NContexts: 1, NActions: 4, Exploration: 0.5})
	m.Update(0, 1, 0)
	m.Update(0, 2, 0)
	// counts [0,1,1,0]: actions 0 and 3 tie on the largest bonus.
	if a := m.SelectAction(0); a != 0 {
		t.Fatalf("expected lowest index 0, got %d", a)
	}
}

func TestOutOfRangeIsClamped(t *testing.T) {
	m := newModel(t, Config{NContexts: 3, NActions: 3, Exploration: 0.5})

	m.Update(-5, 10, 2.0)
	if got := m.Estimate(0, 2); got != 2.0 {
		t.Fatalf("expected clamped update at (0,2), got %f", got)
	}
	if len(m.UpperConfidenceVector(99)) != 3 {
		t.Fatal("expected a row for an out-of-range context")
	}
	_ = m.SelectAction(-1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := Config{NContexts: 3, NActions: 2, Exploration: 0.5}
	src := newModel(t, cfg)
	src.Update(1, 1, 4.0)
	src.Update(1, 1, 2.0)
	src.Update(2, 0, -1.0)

	snap := src.Snapshot()

	// Snapshot is detached from later updates.
	src.Update(1, 1, 100)
	if snap.Estimates[1*2+1] != 3.0 {
		t.Fatalf("snapshot changed after update: %f", snap.Estimates[3])
	}

	dst := newModel(t, cfg)
	dst.Update(0, 0, 9) // replaced, not merged
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if dst.Estimate(0, 0) != 0 || dst.TotalPlays(0) != 1 {
		t.Fatal("restore must replace existing state")
	}
	if dst.Estimate(1, 1) != 3.0 || dst.ActionCount(1, 1) != 2 || dst.TotalPlays(1) != 3 {
		t.Fatalf("unexpected restored values: est=%f count=%f plays=%f",
			dst.Estimate(1, 1), dst.ActionCount(1, 1), dst.TotalPlays(1))
	}
}

func TestRestoreShapeMismatch(t *testing.T) {
	m := newModel(t, Config{NContexts: 3, NActions: 2, Exploration: 0.5})
	other := newModel(t, Config{NContexts: 2, NActions: 2, Exploration: 0.5})

	if err := m.Restore(other.Snapshot()); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	bad := m.Snapshot()
	bad.Estimates = bad.Estimates[:1]
	if err := m.Restore(bad); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for short slice, got %v", err)
	}
}

func TestRestoreRaisesZeroPlays(t *testing.T) {
	m := newModel(t, Config{NContexts: 2, NActions: 2, Exploration: 0.5})
	snap := m.Snapshot()
	snap.TotalPlays[1] = 0
	if err := m.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := m.TotalPlays(1); got != 1 {
		t.Fatalf("expected plays raised to 1, got %f", got)
	}
	for _, v := range m.UpperConfidenceVector(1) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("ucb not finite: %f", v)
		}
	}
}
