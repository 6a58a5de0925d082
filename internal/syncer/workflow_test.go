package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// listSource serves a descending list and counts list calls.
type listSource struct {
	mu    sync.Mutex
	items []mirror.ListItem
	calls []string
}

func (s *listSource) ListPage(_ context.Context, skip, limit int) (mirror.ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%d/%d", skip, limit))
	end := min(skip+limit, len(s.items))
	if skip > end {
		skip = end
	}
	return mirror.ListPage{Count: len(s.items), Pages: s.items[skip:end]}, nil
}

func (s *listSource) FetchDetail(context.Context, string) (mirror.MirroredContent, error) {
	return mirror.MirroredContent{}, mirror.ErrNotFound
}

type recordingSpawner struct {
	mu      sync.Mutex
	batches []BatchParams
}

func (r *recordingSpawner) Spawn(_ context.Context, b BatchParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func descending(n int, top int64) []mirror.ListItem {
	out := make([]mirror.ListItem, n)
	for i := range out {
		out[i] = mirror.ListItem{ID: fmt.Sprintf("p%d", i), Title: fmt.Sprintf("P%d", i), Updated: top - int64(i)}
	}
	return out
}

func newSyncWorkflow(t *testing.T, src mirror.Source, spawner Spawner, batchSize, chunk int) *Workflow {
	t.Helper()
	d, err := NewDispatcher(spawner, batchSize, zap.NewNop())
	require.NoError(t, err)
	w, err := NewWorkflow(src, d, fixedClock{time.Unix(100_000, 0)}, Config{
		ListChunkSize: chunk,
		Period:        24 * time.Hour,
		Slack:         time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestWorkflowDispatchesDisjointBatches(t *testing.T) {
	t.Parallel()

	src := &listSource{items: descending(7, 1_000)}
	spawner := &recordingSpawner{}
	w := newSyncWorkflow(t, src, spawner, 3, 4)

	cutoff := int64(0)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop()).Instance(WorkflowName, "run-1")
	res, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, inst)
	require.NoError(t, err)

	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 3, res.BatchCount)
	assert.Equal(t, []string{"run-1-batch-0", "run-1-batch-1", "run-1-batch-2"}, res.InstanceIDs)
	assert.Equal(t, []string{"0/1", "0/4", "4/4"}, src.calls)

	seen := map[string]bool{}
	for _, b := range spawner.batches {
		for _, p := range b.Pages {
			assert.False(t, seen[p.ID], "page %s in two batches", p.ID)
			seen[p.ID] = true
		}
	}
	assert.Len(t, seen, 7)
}

func TestWorkflowStopsListingAtCutoff(t *testing.T) {
	t.Parallel()

	src := &listSource{items: descending(10, 1_000)}
	spawner := &recordingSpawner{}
	w := newSyncWorkflow(t, src, spawner, 300, 3)

	cutoff := int64(995)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop()).Instance(WorkflowName, "run")
	res, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, inst)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Total, "updated 1000 down to 995")
	assert.Equal(t, []string{"0/1", "0/3", "3/3", "6/3"}, src.calls)
}

func TestWorkflowDefaultCutoff(t *testing.T) {
	t.Parallel()

	w := newSyncWorkflow(t, &listSource{}, &recordingSpawner{}, 300, 1000)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop()).Instance(WorkflowName, "run")
	res, err := w.Run(context.Background(), Input{}, inst)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000-25*3600), res.Cutoff)
	assert.Zero(t, res.BatchCount)
}

func TestWorkflowResumeDoesNotRespawn(t *testing.T) {
	t.Parallel()

	src := &listSource{items: descending(5, 1_000)}
	spawner := &recordingSpawner{}
	w := newSyncWorkflow(t, src, spawner, 2, 10)
	engine := workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop())

	cutoff := int64(0)
	first, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, engine.Instance(WorkflowName, "run"))
	require.NoError(t, err)
	callsAfterFirst := len(src.calls)

	second, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, engine.Instance(WorkflowName, "run"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, spawner.batches, 3)
	assert.Len(t, src.calls, callsAfterFirst)
}

func TestWorkflowUnsortedListIsPermanent(t *testing.T) {
	t.Parallel()

	items := descending(3, 1_000)
	items[2].Updated = 5_000
	src := &listSource{items: items}
	w := newSyncWorkflow(t, src, &recordingSpawner{}, 300, 10)

	policy := workflow.NewExponentialRetryPolicy(5, time.Millisecond, time.Millisecond)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), policy, zap.NewNop()).Instance(WorkflowName, "run")
	cutoff := int64(0)
	_, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, inst)
	require.ErrorIs(t, err, mirror.ErrUnsorted)
	assert.Equal(t, []string{"0/1", "0/10"}, src.calls, "no retry of a permanent failure")
}

func TestWorkflowRejectsInversionAcrossChunks(t *testing.T) {
	t.Parallel()

	src := &listSource{items: []mirror.ListItem{
		{ID: "a", Title: "A", Updated: 100},
		{ID: "b", Title: "B", Updated: 90},
		{ID: "c", Title: "C", Updated: 95},
		{ID: "d", Title: "D", Updated: 80},
	}}
	spawner := &recordingSpawner{}
	w := newSyncWorkflow(t, src, spawner, 300, 2)

	policy := workflow.NewExponentialRetryPolicy(5, time.Millisecond, time.Millisecond)
	inst := workflow.NewEngine(workflow.NewMemoryLog(), policy, zap.NewNop()).Instance(WorkflowName, "run")
	cutoff := int64(50)
	_, err := w.Run(context.Background(), Input{Cutoff: &cutoff}, inst)
	require.ErrorIs(t, err, mirror.ErrUnsorted)
	assert.Equal(t, []string{"0/1", "0/2", "2/2"}, src.calls)
	assert.Empty(t, spawner.batches)
}
