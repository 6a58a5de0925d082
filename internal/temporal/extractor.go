package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/markup"
	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// ExtractorWorkflow names the extraction workflow.
const ExtractorWorkflow = "on-this-day"

// DefaultLookback is the default extraction window.
const DefaultLookback = 25 * time.Hour

// ErrInvalidInput reports a malformed trigger payload.
var ErrInvalidInput = errors.New("invalid on-this-day input")

// Input selects the day pages to extract. FullScan or any range bound
// forces a zero cutoff; Start and End bound MMDD titles inclusively.
type Input struct {
	Cutoff   *int64 `json:"cutoff,omitempty"`
	FullScan bool   `json:"fullScan,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
}

// Validate checks the range bounds.
func (in Input) Validate() error {
	for _, v := range []string{in.Start, in.End} {
		if v != "" && !mirror.IsDayKey(v) {
			return fmt.Errorf("%w: %q is not MMDD", ErrInvalidInput, v)
		}
	}
	if in.Start != "" && in.End != "" && in.Start > in.End {
		return fmt.Errorf("%w: start %s after end %s", ErrInvalidInput, in.Start, in.End)
	}
	return nil
}

// Query resolves the input against now.
func (in Input) Query(now time.Time, lookback time.Duration) mirror.DayPageQuery {
	q := mirror.DayPageQuery{Start: in.Start, End: in.End}
	switch {
	case in.FullScan || in.Start != "" || in.End != "":
		q.UpdatedSince = time.Unix(0, 0).UTC()
	case in.Cutoff != nil:
		q.UpdatedSince = time.Unix(*in.Cutoff, 0).UTC()
	default:
		q.UpdatedSince = now.Add(-lookback).Truncate(time.Second).UTC()
	}
	return q
}

// ExtractorStore is the relational surface the extractor needs.
type ExtractorStore interface {
	mirror.PageStore
	mirror.CrossReferenceStore
}

// ExtractorResult summarizes one extraction run.
type ExtractorResult struct {
	Candidates int `json:"candidates"`
	BatchCounts
}

// BatchCounts tallies one extraction sub-step.
type BatchCounts struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	References int `json:"references"`
}

func (c *BatchCounts) add(o BatchCounts) {
	c.Processed += o.Processed
	c.Skipped += o.Skipped
	c.References += o.References
}

// Extractor rebuilds the cross references of day pages.
type Extractor struct {
	objects  mirror.ObjectStore
	store    ExtractorStore
	clock    mirror.Clock
	stepSize int
	logger   *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(objects mirror.ObjectStore, store ExtractorStore, clock mirror.Clock, stepSize int, logger *zap.Logger) (*Extractor, error) {
	if objects == nil || store == nil || clock == nil {
		return nil, fmt.Errorf("object store, relational store and clock are required")
	}
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		objects:  objects,
		store:    store,
		clock:    clock,
		stepSize: stepSize,
		logger:   logger.Named("temporal"),
	}, nil
}

// Run selects candidate day pages in the fetch-pages step, then processes
// them in steps named batch-{offset}.
func (e *Extractor) Run(ctx context.Context, in Input, steps workflow.Steps) (ExtractorResult, error) {
	if err := in.Validate(); err != nil {
		return ExtractorResult{}, err
	}
	pages, err := workflow.Do(ctx, steps, "fetch-pages", func(ctx context.Context) ([]mirror.DayPage, error) {
		return e.store.ListDayPages(ctx, in.Query(e.clock.Now(), DefaultLookback))
	})
	if err != nil {
		return ExtractorResult{}, err
	}

	res := ExtractorResult{Candidates: len(pages)}
	for offset := 0; offset < len(pages); offset += e.stepSize {
		batch := pages[offset:min(offset+e.stepSize, len(pages))]
		counts, err := workflow.Do(ctx, steps, fmt.Sprintf("batch-%d", offset), func(ctx context.Context) (BatchCounts, error) {
			var c BatchCounts
			for _, page := range batch {
				n, ok, err := e.ProcessPage(ctx, page)
				if err != nil {
					return BatchCounts{}, err
				}
				if !ok {
					c.Skipped++
					continue
				}
				c.Processed++
				c.References += n
			}
			return c, nil
		})
		if err != nil {
			return res, err
		}
		res.add(counts)
	}
	e.logger.Info("on-this-day extraction finished",
		zap.String("instance_id", steps.InstanceID()),
		zap.Int("candidates", res.Candidates),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("references", res.References),
	)
	return res, nil
}

// ProcessPage replaces the cross references of one day page and returns
// how many were written. ok is false when the page was skipped because its
// content is missing or does not parse.
func (e *Extractor) ProcessPage(ctx context.Context, page mirror.DayPage) (int, bool, error) {
	logger := e.logger.With(zap.Int64("page_id", page.ID), zap.String("title", page.Title))

	raw, err := e.objects.Get(ctx, mirror.ContentKey(page.SourceID))
	if errors.Is(err, mirror.ErrObjectNotFound) {
		logger.Warn("day page has no mirrored content")
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", page.SourceID, err)
	}
	var content mirror.MirroredContent
	if err := json.Unmarshal(raw, &content); err != nil {
		logger.Warn("mirrored content is not valid JSON", zap.Error(err))
		return 0, false, nil
	}
	blocks, err := markup.Parse(content.Text(), markup.Options{HasTitle: true})
	if err != nil {
		logger.Warn("skipping unparsable day page", zap.Error(err))
		return 0, false, nil
	}

	cands := ExtractCandidates(blocks)
	resolved, err := e.store.ResolveTitles(ctx, DistinctTitles(cands))
	if err != nil {
		return 0, false, err
	}
	refs := make([]mirror.TemporalCrossReference, 0, len(cands))
	for _, c := range cands {
		target, ok := resolved[c.Title]
		if !ok {
			continue
		}
		refs = append(refs, mirror.TemporalCrossReference{
			SourcePageID: page.ID,
			TargetPageID: target,
			Year:         c.Year,
		})
	}
	// The prior set is cleared even when nothing resolved.
	if err := e.store.ReplaceCrossReferences(ctx, page.ID, refs); err != nil {
		return 0, false, err
	}
	metrics.AddCrossReferences(len(refs))
	logger.Debug("cross references replaced",
		zap.Int("candidates", len(cands)),
		zap.Int("resolved", len(refs)),
	)
	return len(refs), true, nil
}
