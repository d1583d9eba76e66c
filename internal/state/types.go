package state

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
)

// ErrNoSnapshot means no snapshot has been saved yet; callers cold-start.
var ErrNoSnapshot = errors.New("state: no bandit snapshot")

// #region snapshot-record
// SnapshotRecord is one persisted version of the bandit tables.
type SnapshotRecord struct {
	VersionID string
	ParentID  string
	Snapshot  bandit.Snapshot
	Rounds    int // completed update rounds covered by this save
	CreatedAt time.Time
}

// #endregion snapshot-record

// #region snapshot-meta
// SnapshotMeta describes a version without its tables.
type SnapshotMeta struct {
	VersionID string    `json:"version_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	NContexts int       `json:"n_contexts"`
	NActions  int       `json:"n_actions"`
	Rounds    int       `json:"rounds"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// #endregion snapshot-meta
