package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
)

type savedSnapshot struct {
	snap   bandit.Snapshot
	rounds int
}

type fakeSaver struct {
	mu      sync.Mutex
	saved   []savedSnapshot
	errs    []error
	release chan struct{}
	calls   chan int
}

func newFakeSaver() *fakeSaver {
	return &fakeSaver{calls: make(chan int, 16)}
}

func (f *fakeSaver) SaveSnapshot(ctx context.Context, snap bandit.Snapshot, rounds int) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	i := len(f.saved)
	f.saved = append(f.saved, savedSnapshot{snap: snap, rounds: rounds})
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	f.mu.Unlock()
	f.calls <- rounds
	return fmt.Sprintf("v%d", i+1), err
}

func (f *fakeSaver) get(i int) savedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[i]
}

func waitSave(t *testing.T, f *fakeSaver) int {
	t.Helper()
	select {
	case rounds := <-f.calls:
		return rounds
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot save")
		return 0
	}
}

func smallModel(t *testing.T) *bandit.Model {
	t.Helper()
	m, err := bandit.New(bandit.Config{NContexts: 3, NActions: 3, Exploration: 0.5})
	if err != nil {
		t.Fatalf("bandit.New: %v", err)
	}
	return m
}

func TestCheckpointEveryNRounds(t *testing.T) {
	model := smallModel(t)
	saver := newFakeSaver()
	cp := NewCheckpointer(CheckpointConfig{Every: 3}, model, saver, nil, nil)
	ctx := context.Background()
	cp.Start(ctx)
	defer cp.Close()

	for i := 0; i < 3; i++ {
		model.Update(0, 0, 1)
		cp.RoundCompleted(ctx)
	}
	if got := waitSave(t, saver); got != 3 {
		t.Fatalf("first save at round %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		model.Update(0, 0, 1)
		cp.RoundCompleted(ctx)
	}
	if got := waitSave(t, saver); got != 6 {
		t.Fatalf("second save at round %d, want 6", got)
	}
	if saved := saver.get(1); saved.snap.TotalPlays[0] != 7 {
		t.Fatalf("expected plays 7 in second save, got %v", saved.snap.TotalPlays[0])
	}
}

func TestCheckpointCapturesSnapshotAtTrigger(t *testing.T) {
	model := smallModel(t)
	saver := newFakeSaver()
	saver.release = make(chan struct{})
	cp := NewCheckpointer(CheckpointConfig{Every: 2}, model, saver, nil, nil)
	ctx := context.Background()
	cp.Start(ctx)

	for i := 0; i < 2; i++ {
		model.Update(1, 2, 0.5)
		cp.RoundCompleted(ctx)
	}
	// Keep learning while the save is blocked.
	model.Update(1, 2, 0.5)
	model.Update(1, 2, 0.5)
	close(saver.release)
	waitSave(t, saver)
	cp.Close()

	saved := saver.get(0)
	if saved.snap.TotalPlays[1] != 3 {
		t.Fatalf("expected plays captured at trigger (3), got %v", saved.snap.TotalPlays[1])
	}
	if model.TotalPlays(1) != 5 {
		t.Fatalf("live model should be at 5 plays, got %v", model.TotalPlays(1))
	}
}

func TestCheckpointRetriesOnNextInterval(t *testing.T) {
	model := smallModel(t)
	saver := newFakeSaver()
	saver.errs = []error{errors.New("database is locked")}
	cp := NewCheckpointer(CheckpointConfig{Every: 1}, model, saver, nil, nil)
	ctx := context.Background()
	cp.Start(ctx)
	defer cp.Close()

	cp.RoundCompleted(ctx)
	waitSave(t, saver)
	if cp.LastVersion() != "" {
		t.Fatalf("failed save should not set a version, got %q", cp.LastVersion())
	}
	cp.RoundCompleted(ctx)
	waitSave(t, saver)

	deadline := time.Now().Add(2 * time.Second)
	for cp.LastVersion() != "v2" {
		if time.Now().After(deadline) {
			t.Fatalf("expected v2 after retry, got %q", cp.LastVersion())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSaveNowAndSeededRounds(t *testing.T) {
	model := smallModel(t)
	saver := newFakeSaver()
	cp := NewCheckpointer(DefaultCheckpointConfig(), model, saver, nil, nil)
	cp.SetRounds(250)
	cp.RoundCompleted(context.Background())

	if err := cp.SaveNow(context.Background()); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if got := waitSave(t, saver); got != 251 {
		t.Fatalf("expected rounds 251, got %d", got)
	}
	if cp.LastVersion() != "v1" {
		t.Fatalf("expected v1, got %q", cp.LastVersion())
	}
}

func TestCloseWithoutStart(t *testing.T) {
	cp := NewCheckpointer(CheckpointConfig{Every: 1}, smallModel(t), newFakeSaver(), nil, nil)
	cp.RoundCompleted(context.Background())
	cp.RoundCompleted(context.Background())
	cp.Close()
}
