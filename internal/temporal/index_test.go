package temporal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/storage/memory"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

func TestBuildIndexExample(t *testing.T) {
	t.Parallel()

	idx := BuildIndex([]mirror.DayYearCount{
		{DayKey: "1225", Year: 2019, Count: 2},
		{DayKey: "1225", Year: 2021, Count: 1},
		{DayKey: "0101", Year: 2021, Count: 1},
	})
	assert.Equal(t, []int{2019, 2021}, idx.Years)
	assert.Equal(t, [][2]int{{0, 2}, {1, 1}}, idx.Entries["1225"])
	assert.Equal(t, [][2]int{{1, 1}}, idx.Entries["0101"])
}

func TestBuildIndexEmptyEncodesEmptyCollections(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(BuildIndex(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"years":[],"entries":{}}`, string(body))
}

func TestAggregatorWritesArtifact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	objects := memory.NewBlobStore()

	target, err := store.UpsertPage(ctx, mirror.PageRecord{Title: "Target", SourceID: "t"})
	require.NoError(t, err)
	addDay := func(sourceID, title string, years ...int) {
		id, err := store.UpsertPage(ctx, mirror.PageRecord{Title: title, SourceID: sourceID})
		require.NoError(t, err)
		refs := make([]mirror.TemporalCrossReference, 0, len(years))
		for _, y := range years {
			refs = append(refs, mirror.TemporalCrossReference{SourcePageID: id, TargetPageID: target, Year: y})
		}
		require.NoError(t, store.ReplaceCrossReferences(ctx, id, refs))
	}
	addDay("d1", "1225", 2019, 2021)
	addDay("d2", "1225", 2019)
	addDay("d3", "0101", 2021)

	agg, err := NewAggregator(store, objects, zap.NewNop())
	require.NoError(t, err)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop()).Instance(IndexWorkflow, "idx")
	res, err := agg.Run(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, IndexResult{Days: 2, Years: 2, References: 4}, res)

	body, err := objects.Get(ctx, mirror.IndexObjectKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"years":[2019,2021],"entries":{"1225":[[0,2],[1,1]],"0101":[[1,1]]}}`, string(body))
}
