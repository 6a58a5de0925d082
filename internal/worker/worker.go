// Package worker executes spawned sync batches delivered by a queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/queue"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// Executor runs one batch against its step runner.
type Executor interface {
	Run(ctx context.Context, params syncer.BatchParams, steps workflow.Steps) (syncer.BatchResult, error)
}

// Worker consumes batches and runs each as its own workflow instance.
type Worker struct {
	consumer queue.Consumer
	executor Executor
	engine   *workflow.Engine
	timeout  time.Duration
	logger   *zap.Logger
}

// New constructs a Worker. A positive timeout bounds each batch instance.
func New(consumer queue.Consumer, executor Executor, engine *workflow.Engine, timeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		consumer: consumer,
		executor: executor,
		engine:   engine,
		timeout:  timeout,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming batches until the context finishes.
func (w *Worker) Run(ctx context.Context) error {
	err := w.consumer.Consume(ctx, w.Process)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Process runs one batch instance. Redelivered batches replay completed
// sub-steps from the step log.
func (w *Worker) Process(ctx context.Context, batch syncer.BatchParams) error {
	if batch.InstanceID == "" {
		w.logger.Error("dropping batch without instance id", zap.Int("batch_index", batch.BatchIndex))
		return nil
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	w.logger.Debug("batch received",
		zap.String("batch_instance_id", batch.InstanceID),
		zap.Int("pages", len(batch.Pages)),
	)
	inst := w.engine.Instance(syncer.BatchWorkflow, batch.InstanceID)
	res, err := w.executor.Run(ctx, batch, inst)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn("batch instance timed out", zap.String("batch_instance_id", batch.InstanceID))
		}
		return fmt.Errorf("batch %s: %w", batch.InstanceID, err)
	}
	w.logger.Info("batch processed",
		zap.String("batch_instance_id", batch.InstanceID),
		zap.Int("synced", res.Synced),
		zap.Int("skipped", res.Skipped),
		zap.Int("missing", res.Missing),
	)
	return nil
}
