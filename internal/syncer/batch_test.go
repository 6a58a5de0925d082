package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/storage/memory"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListPage(_ context.Context, skip, limit int) (mirror.ListPage, error) {
	args := m.Called(skip, limit)
	return args.Get(0).(mirror.ListPage), args.Error(1)
}

func (m *mockSource) FetchDetail(_ context.Context, title string) (mirror.MirroredContent, error) {
	args := m.Called(title)
	return args.Get(0).(mirror.MirroredContent), args.Error(1)
}

type failingObjects struct {
	*memory.BlobStore
}

func (failingObjects) Put(context.Context, string, string, []byte, map[string]string) error {
	return errors.New("bucket unavailable")
}

func detailFor(ref mirror.PageRef) mirror.MirroredContent {
	return mirror.MirroredContent{
		ID:      ref.ID,
		Title:   ref.Title,
		Created: 1,
		Updated: ref.Updated,
		Lines:   []mirror.Line{{ID: "l0", Text: ref.Title}},
	}
}

func refs(n int, updated int64) []mirror.PageRef {
	out := make([]mirror.PageRef, n)
	for i := range out {
		out[i] = mirror.PageRef{ID: fmt.Sprintf("id-%d", i), Title: fmt.Sprintf("Page %d", i), Updated: updated}
	}
	return out
}

func newInstance(id string) *workflow.Instance {
	return workflow.NewEngine(workflow.NewMemoryLog(), nil, zap.NewNop()).Instance(BatchWorkflow, id)
}

func TestBatchExecutorSyncsInSubSteps(t *testing.T) {
	t.Parallel()

	src := &mockSource{}
	pages := refs(5, 100)
	for _, p := range pages {
		src.On("FetchDetail", p.Title).Return(detailFor(p), nil).Once()
	}
	objects := memory.NewBlobStore()
	store := memory.NewStore()
	exec, err := NewBatchExecutor(src, objects, store, 2, zap.NewNop())
	require.NoError(t, err)

	log := workflow.NewMemoryLog()
	inst := workflow.NewEngine(log, nil, zap.NewNop()).Instance(BatchWorkflow, "b-0")
	res, err := exec.Run(context.Background(), BatchParams{InstanceID: "b-0", BatchIndex: 3, Pages: pages}, inst)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Synced)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 3, log.Len(), "offsets 0, 2 and 4")
	src.AssertExpectations(t)

	for _, p := range pages {
		attrs, err := objects.Head(context.Background(), mirror.ContentKey(p.ID))
		require.NoError(t, err)
		assert.Equal(t, strconv.FormatInt(p.Updated, 10), attrs.Metadata[mirror.MetadataUpdated])

		raw, err := objects.Get(context.Background(), mirror.ContentKey(p.ID))
		require.NoError(t, err)
		var body mirror.MirroredContent
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, p.Updated, body.Updated, "metadata and body agree")

		row, ok := store.PageBySourceID(p.ID)
		require.True(t, ok)
		assert.Equal(t, p.Title, row.Title)
	}
}

func TestBatchExecutorIsIdempotent(t *testing.T) {
	t.Parallel()

	src := &mockSource{}
	pages := refs(4, 100)
	for _, p := range pages {
		src.On("FetchDetail", p.Title).Return(detailFor(p), nil).Once()
	}
	objects := memory.NewBlobStore()
	store := memory.NewStore()
	exec, err := NewBatchExecutor(src, objects, store, 100, zap.NewNop())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), BatchParams{Pages: pages}, newInstance("first"))
	require.NoError(t, err)
	putsAfterFirst := objects.Puts()

	res, err := exec.Run(context.Background(), BatchParams{Pages: pages}, newInstance("second"))
	require.NoError(t, err)
	assert.Equal(t, res.Total, res.Skipped)
	assert.Zero(t, res.Synced)
	assert.Equal(t, putsAfterFirst, objects.Puts(), "no store deltas")
	src.AssertExpectations(t)
}

func TestSyncPageFreshness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stored, listed int64
		wantFetch      bool
	}{
		{stored: 99, listed: 100, wantFetch: true},
		{stored: 100, listed: 100, wantFetch: false},
		{stored: 101, listed: 100, wantFetch: false},
		{stored: 0, listed: 1, wantFetch: true},
		{stored: -5, listed: -5, wantFetch: false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_vs_%d", tc.stored, tc.listed), func(t *testing.T) {
			t.Parallel()

			ref := mirror.PageRef{ID: "x", Title: "X", Updated: tc.listed}
			objects := memory.NewBlobStore()
			require.NoError(t, objects.Put(context.Background(), mirror.ContentKey("x"), mirror.JSONContentType,
				[]byte(`{}`), map[string]string{mirror.MetadataUpdated: strconv.FormatInt(tc.stored, 10)}))

			src := &mockSource{}
			if tc.wantFetch {
				src.On("FetchDetail", "X").Return(detailFor(ref), nil).Once()
			}
			exec, err := NewBatchExecutor(src, objects, memory.NewStore(), 100, zap.NewNop())
			require.NoError(t, err)

			outcome, err := exec.SyncPage(context.Background(), ref)
			require.NoError(t, err)
			if tc.wantFetch {
				assert.Equal(t, OutcomeSynced, outcome)
			} else {
				assert.Equal(t, OutcomeSkipped, outcome)
			}
			src.AssertExpectations(t)
		})
	}
}

func TestSyncPageMissingInSource(t *testing.T) {
	t.Parallel()

	src := &mockSource{}
	src.On("FetchDetail", "Gone").Return(mirror.MirroredContent{}, mirror.ErrNotFound).Once()
	objects := memory.NewBlobStore()
	exec, err := NewBatchExecutor(src, objects, memory.NewStore(), 100, zap.NewNop())
	require.NoError(t, err)

	outcome, err := exec.SyncPage(context.Background(), mirror.PageRef{ID: "g", Title: "Gone", Updated: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.Zero(t, objects.Puts())
}

func TestBatchExecutorStorageFailureFailsStep(t *testing.T) {
	t.Parallel()

	ref := mirror.PageRef{ID: "a", Title: "A", Updated: 10}
	src := &mockSource{}
	src.On("FetchDetail", "A").Return(detailFor(ref), nil)
	store := memory.NewStore()
	exec, err := NewBatchExecutor(src, failingObjects{memory.NewBlobStore()}, store, 100, zap.NewNop())
	require.NoError(t, err)

	log := workflow.NewMemoryLog()
	inst := workflow.NewEngine(log, nil, zap.NewNop()).Instance(BatchWorkflow, "b")
	_, err = exec.Run(context.Background(), BatchParams{Pages: []mirror.PageRef{ref}}, inst)
	require.ErrorContains(t, err, "bucket unavailable")
	assert.Zero(t, log.Len(), "failed step is not recorded")
	_, ok := store.PageBySourceID("a")
	assert.False(t, ok)
}

func TestNewBatchExecutorValidates(t *testing.T) {
	t.Parallel()

	_, err := NewBatchExecutor(nil, memory.NewBlobStore(), memory.NewStore(), 1, nil)
	require.Error(t, err)
	_, err = NewBatchExecutor(&mockSource{}, memory.NewBlobStore(), memory.NewStore(), 0, nil)
	require.Error(t, err)
}
