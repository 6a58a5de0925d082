// Package sqlite provides a single-node workflow step log backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_steps (
	instance_id  TEXT NOT NULL,
	step_name    TEXT NOT NULL,
	result       BLOB NOT NULL,
	completed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (instance_id, step_name)
)`

// StepLog persists workflow step results in a local SQLite file.
type StepLog struct {
	db *sql.DB
}

// Open opens (or creates) the step log database at path.
func Open(ctx context.Context, path string) (*StepLog, error) {
	if path == "" {
		return nil, errors.New("steps.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent batch workers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create workflow_steps: %w", err)
	}
	return &StepLog{db: db}, nil
}

// Close releases the database handle.
func (l *StepLog) Close() error {
	return l.db.Close()
}

// Load implements workflow.StepLog.
func (l *StepLog) Load(ctx context.Context, instanceID, step string) ([]byte, bool, error) {
	var result []byte
	err := l.db.QueryRowContext(ctx,
		`SELECT result FROM workflow_steps WHERE instance_id = ? AND step_name = ?`,
		instanceID, step,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load step: %w", err)
	}
	return result, true, nil
}

// Save implements workflow.StepLog.
func (l *StepLog) Save(ctx context.Context, instanceID, step string, result []byte) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workflow_steps (instance_id, step_name, result) VALUES (?, ?, ?)`,
		instanceID, step, result,
	)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}
