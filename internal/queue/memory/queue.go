// Package memory provides an in-process batch transport for single-node runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wiki-mirror/internal/queue"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan syncer.BatchParams
	workers int
	logger  *zap.Logger
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity whose Consume runs
// workers handlers concurrently.
func NewQueue(capacity, workers int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:      make(chan syncer.BatchParams, capacity),
		workers: workers,
		logger:  logger.Named("memory_queue"),
	}
}

// Spawn implements syncer.Spawner by enqueueing the batch.
func (q *Queue) Spawn(ctx context.Context, batch syncer.BatchParams) error {
	return q.Enqueue(ctx, batch)
}

// Enqueue pushes a batch into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, batch syncer.BatchParams) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- batch:
		return nil
	}
}

// Dequeue pops the next batch, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (syncer.BatchParams, error) {
	select {
	case <-ctx.Done():
		return syncer.BatchParams{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case batch, ok := <-q.ch:
		if !ok {
			return syncer.BatchParams{}, ErrClosed
		}
		return batch, nil
	}
}

// Len reports the number of queued batches.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Consume implements queue.Consumer. It returns nil when ctx ends or the
// queue is closed and drained. Failed batches are logged and dropped; the
// next scheduled sync recomputes its window.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for range q.workers {
		g.Go(func() error {
			for {
				batch, err := q.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, ErrClosed) {
						return nil
					}
					return err
				}
				if err := h(ctx, batch); err != nil {
					q.logger.Error("batch failed",
						zap.String("batch_instance_id", batch.InstanceID),
						zap.Error(err),
					)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}
