package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps db and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	event = normalize(event)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_audit_events (
			run_id, task_id, agent_id, phase, status, output_text, error_text, error_code, output_path, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.TaskID,
		event.AgentID,
		event.Phase,
		event.Status,
		event.Output,
		event.Error,
		event.ErrorCode,
		event.OutputPath,
		nullTime(event.StartedAt),
		nullTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter in insertion order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT run_id, task_id, agent_id, phase, status, output_text, error_text, error_code, output_path, started_at, finished_at
		FROM task_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.TaskID != "" {
		addFilter("task_id = ?", filter.TaskID)
	}
	if filter.Phase != "" {
		addFilter("phase = ?", filter.Phase)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.RunID,
			&event.TaskID,
			&event.AgentID,
			&event.Phase,
			&event.Status,
			&event.Output,
			&event.Error,
			&event.ErrorCode,
			&event.OutputPath,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			output_text TEXT NOT NULL DEFAULT '',
			error_text TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_task_audit_run ON task_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit_events(task_id);
	`)
	return err
}
