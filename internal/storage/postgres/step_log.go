package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StepLog records workflow step results in the workflow_steps table.
type StepLog struct {
	pool pool
}

// NewStepLog shares the store's pool for the step log.
func NewStepLog(s *Store) *StepLog {
	return &StepLog{pool: s.pool}
}

// Load implements workflow.StepLog.
func (l *StepLog) Load(ctx context.Context, instanceID, step string) ([]byte, bool, error) {
	var result []byte
	err := l.pool.QueryRow(ctx,
		`SELECT result FROM workflow_steps WHERE instance_id = $1 AND step_name = $2`,
		instanceID, step,
	).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load step: %w", err)
	}
	return result, true, nil
}

// Save implements workflow.StepLog.
func (l *StepLog) Save(ctx context.Context, instanceID, step string, result []byte) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO workflow_steps (instance_id, step_name, result) VALUES ($1, $2, $3)
		ON CONFLICT (instance_id, step_name) DO NOTHING`,
		instanceID, step, result,
	)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}
