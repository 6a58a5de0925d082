package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// WorkflowName names the top-level sync workflow.
const WorkflowName = "sync"

// Config tunes the sync workflow.
type Config struct {
	ListChunkSize int
	Period        time.Duration
	Slack         time.Duration
}

// Input optionally overrides the computed cutoff (epoch seconds).
type Input struct {
	Cutoff *int64 `json:"cutoff,omitempty"`
}

// Result summarizes one sync run.
type Result struct {
	Cutoff      int64    `json:"cutoff"`
	Total       int      `json:"total"`
	BatchCount  int      `json:"batch_count"`
	InstanceIDs []string `json:"instance_ids"`
}

// Workflow lists recently changed pages and dispatches them in batches.
type Workflow struct {
	source     mirror.Source
	dispatcher *Dispatcher
	clock      mirror.Clock
	cfg        Config
	logger     *zap.Logger
}

// NewWorkflow constructs the sync workflow.
func NewWorkflow(source mirror.Source, dispatcher *Dispatcher, clock mirror.Clock, cfg Config, logger *zap.Logger) (*Workflow, error) {
	if source == nil || dispatcher == nil || clock == nil {
		return nil, fmt.Errorf("source, dispatcher and clock are required")
	}
	if cfg.ListChunkSize <= 0 {
		return nil, fmt.Errorf("list chunk size must be positive, got %d", cfg.ListChunkSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		source:     source,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("sync"),
	}, nil
}

// Run executes the workflow. The cutoff is checkpointed before listing so a
// resumed run filters against the same window.
func (w *Workflow) Run(ctx context.Context, in Input, steps workflow.Steps) (Result, error) {
	cutoff, err := workflow.Do(ctx, steps, "compute-cutoff", func(context.Context) (int64, error) {
		if in.Cutoff != nil {
			return *in.Cutoff, nil
		}
		return ComputeCutoff(w.clock.Now(), w.cfg.Period, w.cfg.Slack), nil
	})
	if err != nil {
		return Result{}, err
	}

	total, err := workflow.Do(ctx, steps, "get-page-count", func(ctx context.Context) (int, error) {
		page, err := w.source.ListPage(ctx, 0, 1)
		if err != nil {
			return 0, err
		}
		return page.Count, nil
	})
	if err != nil {
		return Result{}, err
	}

	var (
		pages []mirror.PageRef
		last  *int64
	)
	for skip := 0; skip < total; skip += w.cfg.ListChunkSize {
		chunk, err := workflow.Do(ctx, steps, fmt.Sprintf("fetch-page-list-%d", skip), func(ctx context.Context) (ChunkResult, error) {
			list, err := w.source.ListPage(ctx, skip, w.cfg.ListChunkSize)
			if err != nil {
				return ChunkResult{}, err
			}
			res, err := FilterChunk(list.Pages, cutoff, w.cfg.ListChunkSize, last)
			if errors.Is(err, mirror.ErrUnsorted) {
				return ChunkResult{}, workflow.Permanent(err)
			}
			return res, err
		})
		if err != nil {
			return Result{}, err
		}
		pages = append(pages, chunk.Pages...)
		last = chunk.LastUpdated
		if chunk.Done {
			break
		}
	}
	pages = Dedupe(pages)

	ids, err := w.dispatcher.Dispatch(ctx, steps, pages)
	if err != nil {
		return Result{}, err
	}
	res := Result{Cutoff: cutoff, Total: len(pages), BatchCount: len(ids), InstanceIDs: ids}
	w.logger.Info("sync dispatched",
		zap.String("instance_id", steps.InstanceID()),
		zap.Int64("cutoff", cutoff),
		zap.Int("listed_total", total),
		zap.Int("selected", res.Total),
		zap.Int("batches", res.BatchCount),
	)
	return res, nil
}
