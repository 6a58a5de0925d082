package workflow

import (
	"context"
	"sync"
)

// StepLog durably records completed step results.
type StepLog interface {
	// Load returns the recorded result and true when the step already completed.
	Load(ctx context.Context, instanceID, step string) ([]byte, bool, error)
	// Save records a completed step. Saving the same key twice keeps the first result.
	Save(ctx context.Context, instanceID, step string, result []byte) error
}

type stepKey struct {
	instance string
	step     string
}

// MemoryLog is an in-process StepLog for development and tests.
type MemoryLog struct {
	mu      sync.RWMutex
	results map[stepKey][]byte
}

// NewMemoryLog creates an empty in-memory step log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{results: make(map[stepKey][]byte)}
}

// Load implements StepLog.
func (l *MemoryLog) Load(_ context.Context, instanceID, step string) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[stepKey{instanceID, step}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), res...), true, nil
}

// Save implements StepLog.
func (l *MemoryLog) Save(_ context.Context, instanceID, step string, result []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := stepKey{instanceID, step}
	if _, exists := l.results[key]; exists {
		return nil
	}
	l.results[key] = append([]byte(nil), result...)
	return nil
}

// Len returns the number of recorded steps.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}
