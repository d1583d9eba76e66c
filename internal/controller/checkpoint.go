package controller

import (
	"context"
	"sync"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
)

// #region checkpoint-config
// CheckpointConfig sets how often the bandit is persisted.
type CheckpointConfig struct {
	Every       int           // completed update rounds between saves
	SaveTimeout time.Duration // bound on a single save
}

// DefaultCheckpointConfig saves every 100 rounds with a 5s timeout.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Every:       100,
		SaveTimeout: 5 * time.Second,
	}
}

// #endregion checkpoint-config

// #region interfaces
// SnapshotSource yields a detached copy of model state. *bandit.Model implements it.
type SnapshotSource interface {
	Snapshot() bandit.Snapshot
}

// SnapshotSaver persists a snapshot. *state.Store implements it.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap bandit.Snapshot, rounds int) (string, error)
}

// #endregion interfaces

// #region checkpointer
type checkpointJob struct {
	snap   bandit.Snapshot
	rounds int
}

// Checkpointer counts completed rounds and saves a snapshot every Every
// rounds on its own goroutine. The snapshot is captured when the interval
// is reached, so the saver never sees a live table. If a save is still
// queued when the next one is due, the newer snapshot replaces it.
type Checkpointer struct {
	config  CheckpointConfig
	source  SnapshotSource
	saver   SnapshotSaver
	log     logging.Logger
	metrics *observability.ControllerCollector

	mu        sync.Mutex
	rounds    int
	sinceSave int
	lastID    string

	queue     chan checkpointJob
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewCheckpointer creates an idle checkpointer; call Start to begin saving.
func NewCheckpointer(config CheckpointConfig, source SnapshotSource, saver SnapshotSaver, log logging.Logger, metrics *observability.ControllerCollector) *Checkpointer {
	if config.Every <= 0 {
		config.Every = DefaultCheckpointConfig().Every
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Checkpointer{
		config:  config,
		source:  source,
		saver:   saver,
		log:     log,
		metrics: metrics,
		queue:   make(chan checkpointJob, 1),
		stop:    make(chan struct{}),
	}
}

// SetRounds seeds the lifetime round count, e.g. from a restored snapshot.
func (c *Checkpointer) SetRounds(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = n
}

// Rounds returns the lifetime round count.
func (c *Checkpointer) Rounds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rounds
}

// LastVersion returns the version ID of the most recent successful save.
func (c *Checkpointer) LastVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// RoundCompleted implements RoundObserver. It never blocks.
func (c *Checkpointer) RoundCompleted(ctx context.Context) {
	c.mu.Lock()
	c.rounds++
	c.sinceSave++
	if c.sinceSave < c.config.Every {
		c.mu.Unlock()
		return
	}
	c.sinceSave = 0
	job := checkpointJob{snap: c.source.Snapshot(), rounds: c.rounds}
	c.mu.Unlock()

	select {
	case c.queue <- job:
		return
	default:
	}
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- job:
		c.log.Debug(ctx, "checkpoint coalesced", logging.Int("rounds", job.rounds))
	default:
	}
}

// Start launches the save worker. It exits when ctx is done or Close is called.
func (c *Checkpointer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run(ctx)
	})
}

func (c *Checkpointer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.queue:
			c.save(ctx, job)
		case <-c.stop:
			select {
			case job := <-c.queue:
				c.save(context.WithoutCancel(ctx), job)
			default:
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes a queued save and waits for the worker to exit.
func (c *Checkpointer) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// SaveNow synchronously saves the current model state.
func (c *Checkpointer) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	job := checkpointJob{snap: c.source.Snapshot(), rounds: c.rounds}
	c.sinceSave = 0
	c.mu.Unlock()
	return c.save(ctx, job)
}

func (c *Checkpointer) save(ctx context.Context, job checkpointJob) error {
	if c.config.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SaveTimeout)
		defer cancel()
	}
	id, err := c.saver.SaveSnapshot(ctx, job.snap, job.rounds)
	c.metrics.ObserveSnapshot(err)
	if err != nil {
		// The next interval saves again; nothing else to do.
		c.log.Warn(ctx, "snapshot save failed", logging.Err(err), logging.Int("rounds", job.rounds))
		return err
	}
	c.mu.Lock()
	c.lastID = id
	c.mu.Unlock()
	c.log.Info(ctx, "snapshot saved", logging.String("version_id", id), logging.Int("rounds", job.rounds))
	return nil
}

// #endregion checkpointer
