// Package runlog persists harvest run reports to SQLite for observability.
// It implements harvest.Recorder and harvest.Historian; pipeline
// correctness never depends on it — a broken runlog only costs history.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/civichub/reportwatch/dbopen"
	"github.com/civichub/reportwatch/harvest"
	"github.com/civichub/reportwatch/idgen"
)

// Schema is the complete runlog schema. Idempotent.
const Schema = `
-- One row per harvest run
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    locators    INTEGER NOT NULL DEFAULT 0,
    saved       INTEGER NOT NULL DEFAULT 0,
    unchanged   INTEGER NOT NULL DEFAULT 0,
    rejected    INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- One row per locator outcome
CREATE TABLE IF NOT EXISTS fetch_log (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    locator       TEXT NOT NULL,
    status        TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    digest        TEXT NOT NULL DEFAULT '',
    reason        TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_run ON fetch_log(run_id);
CREATE INDEX IF NOT EXISTS idx_fetch_log_status ON fetch_log(status);
`

// ApplySchema applies the runlog schema to an already-opened database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("runlog: apply schema: %w", err)
	}
	return nil
}

// Log records and serves harvest run history.
type Log struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator overrides outcome row ID generation.
func WithIDGenerator(g idgen.Generator) Option {
	return func(l *Log) { l.newID = g }
}

// New wraps an already-opened database. The schema must have been applied.
func New(db *sql.DB, opts ...Option) *Log {
	l := &Log{db: db, newID: idgen.Prefixed("log_", idgen.UUIDv7())}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open opens (or creates) the runlog database at path with the schema
// applied.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("runlog: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordRun stores a run and all its outcomes in one transaction.
func (l *Log) RecordRun(ctx context.Context, report *harvest.Report) error {
	return dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, started_at, finished_at, locators,
			saved, unchanged, rejected, failed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
			len(report.Outcomes), report.Saved, report.Unchanged,
			report.Rejected, report.Failed,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, out := range report.Outcomes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO fetch_log (id, run_id, locator, status, category,
				name, digest, reason, error_message, attempts, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.newID(), report.RunID, out.Locator, string(out.Status),
				out.Key.Category, out.Key.Name, out.Digest, out.Reason,
				out.Error, out.Attempts, out.Duration.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("insert outcome: %w", err)
			}
		}
		return nil
	})
}

// History returns the most recent runs, newest first.
func (l *Log) History(ctx context.Context, limit int) ([]harvest.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, saved, unchanged, rejected, failed
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []harvest.RunSummary
	for rows.Next() {
		var s harvest.RunSummary
		var started, finished int64
		if err := rows.Scan(&s.RunID, &started, &finished,
			&s.Saved, &s.Unchanged, &s.Rejected, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		s.FinishedAt = time.UnixMilli(finished).UTC()
		result = append(result, s)
	}
	return result, rows.Err()
}

// Outcomes returns every outcome recorded for a run, in insertion order.
func (l *Log) Outcomes(ctx context.Context, runID string) ([]harvest.Outcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT locator, status, category, name, digest, reason,
		error_message, attempts, duration_ms
		FROM fetch_log WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []harvest.Outcome
	for rows.Next() {
		var out harvest.Outcome
		var status string
		var durationMs int64
		if err := rows.Scan(&out.Locator, &status, &out.Key.Category,
			&out.Key.Name, &out.Digest, &out.Reason, &out.Error,
			&out.Attempts, &durationMs); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out.Status = harvest.Status(status)
		out.Duration = time.Duration(durationMs) * time.Millisecond
		result = append(result, out)
	}
	return result, rows.Err()
}

// Prune deletes runs finished before cutoff, cascading to their outcomes.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, l.db,
		`DELETE FROM runs WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
