// Package runlog persists one execution-log record per workflow run.
//
// Records are insert-only. Retention (Prune) may drop the oldest records but
// never rewrites a surviving one.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    timestamp TEXT NOT NULL,
    input TEXT NOT NULL,
    intent TEXT,
    task_id TEXT,
    requires_human BOOLEAN NOT NULL DEFAULT FALSE,
    final_result TEXT NOT NULL,
    error TEXT,
    trace TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
`

// ErrNotFound is returned when no record has the requested run id.
var ErrNotFound = errors.New("run not found")

// Store is the SQLite-backed execution log
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the execution log at dbPath
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes rec. A run id can be written only once.
func (s *Store) Append(ctx context.Context, rec domain.RunRecord) error {
	if rec.RunID == "" {
		return errors.New("runlog: run id is required")
	}
	traceJSON, err := json.Marshal(rec.Trace)
	if err != nil {
		return fmt.Errorf("runlog: encode trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, timestamp, input, intent, task_id, requires_human, final_result, error, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Input,
		string(rec.Intent),
		string(rec.TaskID),
		rec.RequiresHuman,
		rec.FinalResult,
		rec.Error,
		string(traceJSON),
	)
	if err != nil {
		return fmt.Errorf("runlog: append %s: %w", rec.RunID, err)
	}
	return nil
}

// Get returns the record for runID
func (s *Store) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, timestamp, input, intent, task_id, requires_human, final_result, error, trace
		FROM runs WHERE run_id = ?
	`, runID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Recent returns the last limit records in chronological order.
func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, timestamp, input, intent, task_id, requires_human, final_result, error, trace
		FROM (SELECT * FROM runs ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RunRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

// Prune keeps the newest keep records and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE seq NOT IN (SELECT seq FROM runs ORDER BY seq DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("runlog: prune: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Reset removes all records. Administrative only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var ts, traceJSON string
	var intent, taskID, errMsg sql.NullString

	err := row.Scan(&rec.RunID, &ts, &rec.Input, &intent, &taskID, &rec.RequiresHuman, &rec.FinalResult, &errMsg, &traceJSON)
	if err != nil {
		return nil, err
	}

	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	rec.Intent = domain.Intent(intent.String)
	rec.TaskID = domain.TaskID(taskID.String)
	rec.Error = errMsg.String
	if err := json.Unmarshal([]byte(traceJSON), &rec.Trace); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return &rec, nil
}
