// Package history persists derived rows to SQLite so clients can query
// date ranges that have aged out of the live store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/casewatch/casewatch/internal/derive"
)

const schema = `
CREATE TABLE IF NOT EXISTS derived_observations (
    metric      TEXT    NOT NULL,
    entity      TEXT    NOT NULL,
    date        TEXT    NOT NULL,
    cumulative  INTEGER NOT NULL,
    incremental INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    PRIMARY KEY (metric, entity, date)
);
CREATE INDEX IF NOT EXISTS idx_derived_metric_date
    ON derived_observations (metric, date);
`

// Store persists derived observations in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record upserts one metric's derived rows. Re-recording a (metric, entity,
// date) replaces the previous values, so corrected feeds converge instead of
// accumulating conflicting rows.
func (s *Store) Record(ctx context.Context, metric string, rows []derive.Derived) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO derived_observations
		    (metric, entity, date, cumulative, incremental, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (metric, entity, date) DO UPDATE SET
		    cumulative  = excluded.cumulative,
		    incremental = excluded.incremental,
		    recorded_at = excluded.recorded_at`)
	if err != nil {
		return fmt.Errorf("history: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			metric, r.Entity, r.Date.Format(derive.DateLayout),
			r.Cumulative, r.Incremental, now,
		); err != nil {
			return fmt.Errorf("history: insert %s/%s/%s: %w",
				metric, r.Entity, r.Date.Format(derive.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Range returns rows for metric between from and to inclusive, optionally
// filtered to one entity (empty entity means all), ordered by entity then
// date. Zero from/to leave that bound open.
func (s *Store) Range(ctx context.Context, metric, entity string, from, to time.Time) ([]derive.Derived, error) {
	q := `SELECT entity, date, cumulative, incremental
	        FROM derived_observations WHERE metric = ?`
	args := []any{metric}

	if entity != "" {
		q += ` AND entity = ?`
		args = append(args, entity)
	}
	if !from.IsZero() {
		q += ` AND date >= ?`
		args = append(args, from.Format(derive.DateLayout))
	}
	if !to.IsZero() {
		q += ` AND date <= ?`
		args = append(args, to.Format(derive.DateLayout))
	}
	q += ` ORDER BY entity, date`

	sqlRows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query range: %w", err)
	}
	defer sqlRows.Close()

	var out []derive.Derived
	for sqlRows.Next() {
		var (
			r       derive.Derived
			dateStr string
		)
		if err := sqlRows.Scan(&r.Entity, &dateStr, &r.Cumulative, &r.Incremental); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		r.Date, err = time.Parse(derive.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("history: parse stored date %q: %w", dateStr, err)
		}
		out = append(out, r)
	}
	return out, sqlRows.Err()
}

// Prune deletes rows whose observation date is older than olderThan.
// It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM derived_observations WHERE date < ?`,
		olderThan.Format(derive.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}
