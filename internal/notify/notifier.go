package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// WorkflowName names the notify workflow.
const WorkflowName = "notify"

// Config tunes the digest.
type Config struct {
	MaxPages    int
	ChunkBudget int
}

// Result summarizes one digest run.
type Result struct {
	Notified int `json:"notified"`
	Chunks   int `json:"chunks"`
}

// Notifier sends the digest of unclassified pages.
type Notifier struct {
	store    mirror.ClassificationStore
	renderer *Renderer
	sender   Sender
	cfg      Config
	logger   *zap.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(store mirror.ClassificationStore, renderer *Renderer, sender Sender, cfg Config, logger *zap.Logger) (*Notifier, error) {
	if store == nil || renderer == nil || sender == nil {
		return nil, fmt.Errorf("store, renderer and sender are required")
	}
	if cfg.MaxPages <= 0 || cfg.ChunkBudget <= 0 {
		return nil, fmt.Errorf("max pages and chunk budget must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{store: store, renderer: renderer, sender: sender, cfg: cfg, logger: logger.Named("notify")}, nil
}

// Run lists pages in get-unclassified-pages and sends each chunk in its own
// send-digest-{i} step so a failed delivery does not resend earlier chunks.
func (n *Notifier) Run(ctx context.Context, steps workflow.Steps) (Result, error) {
	pages, err := workflow.Do(ctx, steps, "get-unclassified-pages", func(ctx context.Context) ([]mirror.UnclassifiedPage, error) {
		return n.store.ListUnclassified(ctx, n.cfg.MaxPages)
	})
	if err != nil {
		return Result{}, err
	}
	if len(pages) == 0 {
		n.logger.Info("no unclassified pages", zap.String("instance_id", steps.InstanceID()))
		return Result{}, nil
	}

	chunks, truncated := Chunk(n.renderer.Lines(pages), n.cfg.ChunkBudget)
	if truncated > 0 {
		n.logger.Warn("digest lines exceed chunk budget; trailing links dropped",
			zap.String("instance_id", steps.InstanceID()),
			zap.Int("lines", truncated),
			zap.Int("budget", n.cfg.ChunkBudget),
		)
	}
	for i, chunk := range chunks {
		_, err := workflow.Do(ctx, steps, fmt.Sprintf("send-digest-%d", i), func(ctx context.Context) (bool, error) {
			return true, n.sender.Send(ctx, chunk)
		})
		if err != nil {
			return Result{}, err
		}
	}
	metrics.AddNotifiedPages(len(pages))
	n.logger.Info("digest sent",
		zap.String("instance_id", steps.InstanceID()),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
	)
	return Result{Notified: len(pages), Chunks: len(chunks)}, nil
}
