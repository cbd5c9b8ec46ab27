package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store provides SQLite-backed task persistence.
//
// Mutations (Create, Update, Reset) are serialized by a single write lock held
// across the whole transaction. Reads share the lock and never observe a
// partially written task.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// Now returns the current time. Exposed for tests.
	Now func() time.Time
}

// NewTask holds the caller-supplied fields of a task to create
type NewTask struct {
	Title       string
	Description string
	Priority    domain.Priority
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	Status   domain.TaskStatus
	Priority domain.Priority
	Limit    int
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and matches the
	// single-writer discipline of the store.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, Now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Create allocates the next sequential id and inserts a pending task.
func (s *Store) Create(ctx context.Context, nt NewTask) (*domain.Task, error) {
	title := strings.TrimSpace(nt.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	priority := domain.NormalizePriority(string(nt.Priority))

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("create", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'task' RETURNING value`).Scan(&seq)
	if err != nil {
		return nil, persistErr("create", fmt.Errorf("allocate id: %w", err))
	}

	now := s.Now().UTC()
	task := &domain.Task{
		ID:          domain.FormatTaskID(seq),
		Title:       title,
		Description: strings.TrimSpace(nt.Description),
		Priority:    priority,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, seq, title, description, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID.String(),
		seq,
		task.Title,
		task.Description,
		string(task.Priority),
		string(task.Status),
		now.Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		return nil, persistErr("create", err)
	}

	entry := domain.HistoryEntry{
		Timestamp: now,
		Change:    "created",
		Fields: map[string]string{
			"title":    task.Title,
			"priority": string(task.Priority),
			"status":   string(task.Status),
		},
	}
	if err := insertHistory(ctx, tx, task.ID, entry); err != nil {
		return nil, persistErr("create", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("create", err)
	}

	task.History = []domain.HistoryEntry{entry}
	return task, nil
}

// Get retrieves a task by ID
func (s *Store) Get(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, err := loadTask(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistErr("get", err)
	}
	return task, nil
}

// List returns tasks matching the given options, newest first
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, title, description, priority, status, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(opts.Priority))
	}

	query += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("list", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistErr("list", err)
	}
	rows.Close()

	// History is loaded after the task cursor is closed: the store runs on a
	// single connection.
	for _, task := range tasks {
		if task.History, err = loadHistory(ctx, s.db, task.ID); err != nil {
			return nil, persistErr("list", err)
		}
	}

	return tasks, nil
}

// Update applies u to an existing task. Exactly one history entry is appended
// before updated_at is refreshed, even when the update changes nothing.
func (s *Store) Update(ctx context.Context, id domain.TaskID, u domain.TaskUpdate) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("update", err)
	}
	defer tx.Rollback()

	task, err := loadTask(ctx, tx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistErr("update", err)
	}

	u.Apply(task)
	now := s.Now().UTC()

	entry := domain.HistoryEntry{
		Timestamp: now,
		Change:    u.Describe(),
		Fields:    u.Changes(),
	}
	if err := insertHistory(ctx, tx, task.ID, entry); err != nil {
		return nil, persistErr("update", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, priority = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		task.Title,
		task.Description,
		string(task.Priority),
		string(task.Status),
		now.Format(timeLayout),
		task.ID.String(),
	)
	if err != nil {
		return nil, persistErr("update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("update", err)
	}

	task.UpdatedAt = now
	task.History = append(task.History, entry)
	return task, nil
}

// Reset removes every task and restarts id allocation. Administrative only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("reset", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM task_history`,
		`DELETE FROM tasks`,
		`UPDATE counters SET value = 0 WHERE name = 'task'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return persistErr("reset", err)
		}
	}
	return persistErr("reset", tx.Commit())
}

// CountByStatus returns how many tasks are in each status
func (s *Store) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, persistErr("count", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistErr("count", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, persistErr("count", rows.Err())
}

func loadTask(ctx context.Context, q querier, id domain.TaskID) (*domain.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, description, priority, status, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id.String())

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if task.History, err = loadHistory(ctx, q, task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

func loadHistory(ctx context.Context, q querier, id domain.TaskID) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT timestamp, change, fields FROM task_history WHERE task_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []domain.HistoryEntry{}
	for rows.Next() {
		var ts, change string
		var fieldsJSON sql.NullString
		if err := rows.Scan(&ts, &change, &fieldsJSON); err != nil {
			return nil, err
		}
		entry := domain.HistoryEntry{Change: change}
		if entry.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("history timestamp: %w", err)
		}
		if fieldsJSON.Valid && fieldsJSON.String != "" && fieldsJSON.String != "null" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &entry.Fields); err != nil {
				return nil, err
			}
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, id domain.TaskID, entry domain.HistoryEntry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_history (task_id, timestamp, change, fields) VALUES (?, ?, ?, ?)`,
		id.String(), entry.Timestamp.Format(timeLayout), entry.Change, string(fieldsJSON))
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var id, priority, status, createdAt, updatedAt string

	err := row.Scan(&id, &task.Title, &task.Description, &priority, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.ID = domain.TaskID(id)
	task.Priority = domain.Priority(priority)
	task.Status = domain.TaskStatus(status)
	if task.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &task, nil
}
