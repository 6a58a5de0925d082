package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// BatchWorkflow names the batch sub-workflow in step logs and metrics.
const BatchWorkflow = "sync-batch"

// BatchParams is the payload of one spawned batch instance.
type BatchParams struct {
	InstanceID string           `json:"instance_id"`
	BatchIndex int              `json:"batch_index"`
	Pages      []mirror.PageRef `json:"pages"`
}

// Spawner starts a batch sub-workflow. Spawning the same instance id twice
// must be harmless; the batch replays its own step log.
type Spawner interface {
	Spawn(ctx context.Context, batch BatchParams) error
}

// Dispatcher partitions pages into fixed-size batches and spawns each one.
type Dispatcher struct {
	spawner   Spawner
	batchSize int
	logger    *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(spawner Spawner, batchSize int, logger *zap.Logger) (*Dispatcher, error) {
	if spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{spawner: spawner, batchSize: batchSize, logger: logger.Named("dispatcher")}, nil
}

// Partition splits pages into consecutive slices of at most size.
func Partition(pages []mirror.PageRef, size int) [][]mirror.PageRef {
	if size <= 0 || len(pages) == 0 {
		return nil
	}
	out := make([][]mirror.PageRef, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		out = append(out, pages[start:end:end])
	}
	return out
}

// BatchInstanceID derives the batch instance id from its parent run.
func BatchInstanceID(parent string, index int) string {
	return fmt.Sprintf("%s-batch-%d", parent, index)
}

// Dispatch spawns one batch per partition under steps named start-batch-{i}
// and returns the spawned instance ids in batch order.
func (d *Dispatcher) Dispatch(ctx context.Context, steps workflow.Steps, pages []mirror.PageRef) ([]string, error) {
	batches := Partition(pages, d.batchSize)
	ids := make([]string, 0, len(batches))
	for i, batch := range batches {
		params := BatchParams{
			InstanceID: BatchInstanceID(steps.InstanceID(), i),
			BatchIndex: i,
			Pages:      batch,
		}
		id, err := workflow.Do(ctx, steps, fmt.Sprintf("start-batch-%d", i), func(ctx context.Context) (string, error) {
			if err := d.spawner.Spawn(ctx, params); err != nil {
				return "", err
			}
			return params.InstanceID, nil
		})
		if err != nil {
			return ids, err
		}
		d.logger.Debug("batch spawned",
			zap.String("batch_instance_id", id),
			zap.Int("batch_index", i),
			zap.Int("pages", len(batch)),
		)
		ids = append(ids, id)
	}
	return ids, nil
}
