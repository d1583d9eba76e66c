package state

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS bandit_snapshots (
	version_id     TEXT PRIMARY KEY,
	parent_id      TEXT,
	n_contexts     INTEGER NOT NULL,
	n_actions      INTEGER NOT NULL,
	estimates      BLOB NOT NULL,
	total_plays    BLOB NOT NULL,
	action_counts  BLOB NOT NULL,
	rounds         INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES bandit_snapshots(version_id)
);

CREATE TABLE IF NOT EXISTS active_snapshot (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES bandit_snapshots(version_id)
);
`

// createdAtLayout is fixed width so created_at sorts as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store keeps versioned bandit snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region save-snapshot
// SaveSnapshot stores snap as a new version parented on the active one and
// makes it active. It returns the new version ID.
func (s *Store) SaveSnapshot(ctx context.Context, snap bandit.Snapshot, rounds int) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", err
	}

	var parent string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get active: %w", err)
	}

	rec := SnapshotRecord{
		VersionID: uuid.New().String(),
		ParentID:  parent,
		Snapshot:  snap,
		Rounds:    rounds,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CommitSnapshot(ctx, rec); err != nil {
		return "", err
	}
	return rec.VersionID, nil
}

// CommitSnapshot inserts rec and updates the active pointer atomically.
func (s *Store) CommitSnapshot(ctx context.Context, rec SnapshotRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bandit_snapshots (version_id, parent_id, n_contexts, n_actions, estimates, total_plays, action_counts, rounds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, rec.Snapshot.NContexts, rec.Snapshot.NActions,
		encodeFloats(rec.Snapshot.Estimates), encodeFloats(rec.Snapshot.TotalPlays), encodeFloats(rec.Snapshot.ActionCounts),
		rec.Rounds, rec.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_snapshot (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	return tx.Commit()
}

// #endregion save-snapshot

// #region get-current
// GetCurrent reads the active snapshot, or ErrNoSnapshot on a fresh database.
func (s *Store) GetCurrent(ctx context.Context) (SnapshotRecord, error) {
	var versionID string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, ErrNoSnapshot
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(ctx, versionID)
}

// LoadBanditSnapshot returns the active tables, or ErrNoSnapshot.
func (s *Store) LoadBanditSnapshot(ctx context.Context) (bandit.Snapshot, error) {
	rec, err := s.GetCurrent(ctx)
	if err != nil {
		return bandit.Snapshot{}, err
	}
	return rec.Snapshot, nil
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific snapshot version by ID.
func (s *Store) GetVersion(ctx context.Context, id string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var parentID sql.NullString
	var est, plays, counts []byte
	var createdStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT version_id, parent_id, n_contexts, n_actions, estimates, total_plays, action_counts, rounds, created_at
		 FROM bandit_snapshots WHERE version_id = ?`, id,
	).Scan(&rec.VersionID, &parentID, &rec.Snapshot.NContexts, &rec.Snapshot.NActions,
		&est, &plays, &counts, &rec.Rounds, &createdStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}

	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	rec.Snapshot.Estimates = decodeFloats(est)
	rec.Snapshot.TotalPlays = decodeFloats(plays)
	rec.Snapshot.ActionCounts = decodeFloats(counts)
	if err := rec.Snapshot.Validate(); err != nil {
		return SnapshotRecord{}, fmt.Errorf("version %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion get-version

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(ctx context.Context, targetVersionID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bandit_snapshots WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_snapshot (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		targetVersionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns metadata for the most recent versions, newest first.
func (s *Store) ListVersions(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.version_id, b.parent_id, b.n_contexts, b.n_actions, b.rounds, b.created_at,
		        CASE WHEN a.version_id IS NULL THEN 0 ELSE 1 END
		 FROM bandit_snapshots b
		 LEFT JOIN active_snapshot a ON a.version_id = b.version_id
		 ORDER BY b.created_at DESC, b.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var metas []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		var parentID sql.NullString
		var createdStr string
		var active int
		if err := rows.Scan(&m.VersionID, &parentID, &m.NContexts, &m.NActions, &m.Rounds, &createdStr, &active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if parentID.Valid {
			m.ParentID = parentID.String
		}
		m.Active = active == 1
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// #endregion list-versions

// #region float-encoding
func encodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// #endregion float-encoding
