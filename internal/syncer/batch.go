package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// Page outcomes reported by the batch executor.
const (
	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"
	OutcomeMissing = "missing"
)

// StepCounts tallies the outcomes of one sub-step.
type StepCounts struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Missing int `json:"missing"`
}

func (c *StepCounts) add(o StepCounts) {
	c.Synced += o.Synced
	c.Skipped += o.Skipped
	c.Missing += o.Missing
}

// BatchResult summarizes one batch instance.
type BatchResult struct {
	BatchIndex int `json:"batch_index"`
	Total      int `json:"total"`
	StepCounts
}

// BatchExecutor syncs the pages of one batch.
type BatchExecutor struct {
	source   mirror.Source
	objects  mirror.ObjectStore
	pages    mirror.PageStore
	stepSize int
	logger   *zap.Logger
}

// NewBatchExecutor constructs a BatchExecutor.
func NewBatchExecutor(
	source mirror.Source,
	objects mirror.ObjectStore,
	pages mirror.PageStore,
	stepSize int,
	logger *zap.Logger,
) (*BatchExecutor, error) {
	if source == nil || objects == nil || pages == nil {
		return nil, fmt.Errorf("source, object store and page store are required")
	}
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchExecutor{
		source:   source,
		objects:  objects,
		pages:    pages,
		stepSize: stepSize,
		logger:   logger.Named("sync_batch"),
	}, nil
}

// Run processes the batch in sub-steps named batch-{index}-sync-{offset}.
// A failing page fails its whole sub-step; every page operation is safe to
// repeat.
func (e *BatchExecutor) Run(ctx context.Context, params BatchParams, steps workflow.Steps) (BatchResult, error) {
	metrics.IncActiveBatches()
	defer metrics.DecActiveBatches()

	res := BatchResult{BatchIndex: params.BatchIndex, Total: len(params.Pages)}
	for offset := 0; offset < len(params.Pages); offset += e.stepSize {
		chunk := params.Pages[offset:min(offset+e.stepSize, len(params.Pages))]
		name := fmt.Sprintf("batch-%d-sync-%d", params.BatchIndex, offset)
		counts, err := workflow.Do(ctx, steps, name, func(ctx context.Context) (StepCounts, error) {
			return e.syncChunk(ctx, chunk)
		})
		if err != nil {
			return res, err
		}
		res.add(counts)
	}
	e.logger.Info("batch finished",
		zap.String("instance_id", steps.InstanceID()),
		zap.Int("batch_index", res.BatchIndex),
		zap.Int("total", res.Total),
		zap.Int("synced", res.Synced),
		zap.Int("skipped", res.Skipped),
		zap.Int("missing", res.Missing),
	)
	return res, nil
}

func (e *BatchExecutor) syncChunk(ctx context.Context, chunk []mirror.PageRef) (StepCounts, error) {
	var counts StepCounts
	for _, ref := range chunk {
		outcome, err := e.SyncPage(ctx, ref)
		if err != nil {
			return StepCounts{}, err
		}
		switch outcome {
		case OutcomeSynced:
			counts.Synced++
		case OutcomeSkipped:
			counts.Skipped++
		case OutcomeMissing:
			counts.Missing++
		}
	}
	return counts, nil
}

// SyncPage brings one page up to date and reports its outcome.
func (e *BatchExecutor) SyncPage(ctx context.Context, ref mirror.PageRef) (string, error) {
	key := mirror.ContentKey(ref.ID)
	fresh, err := e.isFresh(ctx, key, ref.Updated)
	if err != nil {
		return "", err
	}
	if fresh {
		metrics.ObserveSyncPage(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	detail, err := e.source.FetchDetail(ctx, ref.Title)
	if errors.Is(err, mirror.ErrNotFound) {
		e.logger.Warn("page vanished from source", zap.String("source_id", ref.ID), zap.String("title", ref.Title))
		metrics.ObserveSyncPage(OutcomeMissing)
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w", ref.Title, err)
	}
	if detail.ID == "" {
		detail.ID = ref.ID
	}

	body, err := json.Marshal(detail)
	if err != nil {
		return "", workflow.Permanent(fmt.Errorf("encode %s: %w", ref.ID, err))
	}
	if err := e.objects.Put(ctx, key, mirror.JSONContentType, body, detail.Metadata()); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	if _, err := e.pages.UpsertPage(ctx, mirror.PageRecordFromContent(detail)); err != nil {
		return "", err
	}
	metrics.ObserveSyncPage(OutcomeSynced)
	return OutcomeSynced, nil
}

// isFresh reads only the object metadata. A missing object or a metadata
// value that does not parse counts as stale.
func (e *BatchExecutor) isFresh(ctx context.Context, key string, listed int64) (bool, error) {
	attrs, err := e.objects.Head(ctx, key)
	if errors.Is(err, mirror.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	raw, ok := attrs.Metadata[mirror.MetadataUpdated]
	if !ok {
		return false, nil
	}
	stored, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("unparsable updated metadata", zap.String("key", key), zap.String("value", raw))
		return false, nil
	}
	return stored >= listed, nil
}
