package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region schema
const decisionSchema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id  TEXT NOT NULL UNIQUE,
	packet_type  INTEGER NOT NULL,
	packet_size  INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	radar_angle  INTEGER,
	beam_angle   INTEGER,
	reward       REAL,
	per          REAL,
	data_snr     REAL,
	detail_json  TEXT,
	created_at   TEXT NOT NULL
);
`

// #endregion schema

// #region decision-log
// DecisionLog appends emitted commands to the decision_log table.
type DecisionLog struct {
	db *sql.DB
}

// NewDecisionLog creates the decision_log table if needed.
func NewDecisionLog(db *sql.DB) (*DecisionLog, error) {
	if _, err := db.Exec(decisionSchema); err != nil {
		return nil, fmt.Errorf("migrate decision_log: %w", err)
	}
	return &DecisionLog{db: db}, nil
}

// RecordDecision writes entry, filling in a decision ID and timestamp if absent.
func (l *DecisionLog) RecordDecision(ctx context.Context, entry DecisionEntry) error {
	return LogDecision(ctx, l.db, entry)
}

// Recent returns the newest entries, newest first.
func (l *DecisionLog) Recent(ctx context.Context, limit int) ([]DecisionEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT decision_id, packet_type, packet_size, reason, radar_angle, beam_angle, reward, per, data_snr, detail_json, created_at
		 FROM decision_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var radar, beam sql.NullInt64
		var reward, per, snr sql.NullFloat64
		var detail sql.NullString
		var created string
		if err := rows.Scan(&e.DecisionID, &e.PacketType, &e.PacketSize, &e.Reason,
			&radar, &beam, &reward, &per, &snr, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.RadarAngle = intPtr(radar)
		e.BeamAngle = intPtr(beam)
		e.Reward = floatPtr(reward)
		e.PER = floatPtr(per)
		e.DataSNR = floatPtr(snr)
		if detail.Valid {
			e.DetailJSON = detail.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion decision-log

// #region log-decision
// LogDecision writes one entry to the decision_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.DecisionID == "" {
		entry.DecisionID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (decision_id, packet_type, packet_size, reason, radar_angle, beam_angle, reward, per, data_snr, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DecisionID,
		entry.PacketType,
		entry.PacketSize,
		entry.Reason,
		nullIfNil(entry.RadarAngle),
		nullIfNil(entry.BeamAngle),
		nullIfNil(entry.Reward),
		nullIfNil(entry.PER),
		nullIfNil(entry.DataSNR),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNil[T int | float64](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// #endregion helpers
