package temporal

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// IndexWorkflow names the aggregation workflow.
const IndexWorkflow = "on-this-day-index"

// Index is the on-this-day artifact. Each entry pairs an index into Years
// with the reference count for that year.
type Index struct {
	Years   []int               `json:"years"`
	Entries map[string][][2]int `json:"entries"`
}

// BuildIndex folds grouped counts into an Index. Years are ascending and
// each day's pairs are ordered by year index.
func BuildIndex(rows []mirror.DayYearCount) Index {
	perDay := make(map[string]map[int]int)
	yearSet := make(map[int]struct{})
	for _, r := range rows {
		if r.Count <= 0 {
			continue
		}
		yearSet[r.Year] = struct{}{}
		if perDay[r.DayKey] == nil {
			perDay[r.DayKey] = make(map[int]int)
		}
		perDay[r.DayKey][r.Year] += r.Count
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	slices.Sort(years)
	position := make(map[int]int, len(years))
	for i, y := range years {
		position[y] = i
	}

	entries := make(map[string][][2]int, len(perDay))
	for day, counts := range perDay {
		pairs := make([][2]int, 0, len(counts))
		for y, n := range counts {
			pairs = append(pairs, [2]int{position[y], n})
		}
		slices.SortFunc(pairs, func(a, b [2]int) int { return cmp.Compare(a[0], b[0]) })
		entries[day] = pairs
	}
	return Index{Years: years, Entries: entries}
}

// IndexResult summarizes one aggregation.
type IndexResult struct {
	Days       int `json:"days"`
	Years      int `json:"years"`
	References int `json:"references"`
}

// Aggregator rebuilds the index artifact from every cross reference.
type Aggregator struct {
	refs    mirror.CrossReferenceStore
	objects mirror.ObjectStore
	logger  *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(refs mirror.CrossReferenceStore, objects mirror.ObjectStore, logger *zap.Logger) (*Aggregator, error) {
	if refs == nil || objects == nil {
		return nil, fmt.Errorf("cross reference store and object store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{refs: refs, objects: objects, logger: logger.Named("index")}, nil
}

// Run rebuilds and overwrites the artifact in a single generate-index step.
func (a *Aggregator) Run(ctx context.Context, steps workflow.Steps) (IndexResult, error) {
	res, err := workflow.Do(ctx, steps, "generate-index", a.rebuild)
	if err != nil {
		return IndexResult{}, err
	}
	a.logger.Info("on-this-day index written",
		zap.String("instance_id", steps.InstanceID()),
		zap.Int("days", res.Days),
		zap.Int("years", res.Years),
		zap.Int("references", res.References),
	)
	return res, nil
}

func (a *Aggregator) rebuild(ctx context.Context) (IndexResult, error) {
	rows, err := a.refs.CountByDayAndYear(ctx)
	if err != nil {
		return IndexResult{}, err
	}
	idx := BuildIndex(rows)
	body, err := json.Marshal(idx)
	if err != nil {
		return IndexResult{}, workflow.Permanent(fmt.Errorf("encode index: %w", err))
	}
	if err := a.objects.Put(ctx, mirror.IndexObjectKey, mirror.JSONContentType, body, nil); err != nil {
		return IndexResult{}, fmt.Errorf("write index: %w", err)
	}
	refs := 0
	for _, r := range rows {
		refs += r.Count
	}
	metrics.SetIndexDays(len(idx.Entries))
	return IndexResult{Days: len(idx.Entries), Years: len(idx.Years), References: refs}, nil
}
