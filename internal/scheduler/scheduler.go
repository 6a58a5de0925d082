// Package scheduler triggers workflows on fixed intervals in serve mode.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic trigger.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. A failed run is logged and the
// job fires again on its next tick.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

// New constructs a Scheduler. Jobs with a non-positive interval are skipped.
func New(jobs []Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Run == nil {
			return nil, fmt.Errorf("job %q has no run function", j.Name)
		}
		if j.Interval <= 0 {
			logger.Info("schedule disabled", zap.String("job", j.Name))
			continue
		}
		active = append(active, j)
	}
	return &Scheduler{jobs: active, logger: logger.Named("scheduler")}, nil
}

// Jobs returns the enabled jobs.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Run blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	s.logger.Info("schedule started", zap.String("job", j.Name), zap.Duration("interval", j.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j Job) {
	start := time.Now()
	err := j.Run(ctx)
	switch {
	case err == nil:
		s.logger.Info("scheduled run finished", zap.String("job", j.Name), zap.Duration("elapsed", time.Since(start)))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("scheduled run canceled", zap.String("job", j.Name))
	default:
		s.logger.Error("scheduled run failed", zap.String("job", j.Name), zap.Error(err))
	}
}
