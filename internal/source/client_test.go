package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/pages", UserAgent: "mirror-test"}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_ListPageSendsPaginationAndSort(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pages", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("skip"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		require.Equal(t, "updated", r.URL.Query().Get("sort"))
		require.Equal(t, "mirror-test", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(mirror.ListPage{
			Count: 31,
			Pages: []mirror.ListItem{{ID: "a", Title: "A", Updated: 100, Pin: 1}},
		})
	}))

	page, err := c.ListPage(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Equal(t, 31, page.Count)
	require.Len(t, page.Pages, 1)
	require.True(t, page.Pages[0].Pinned())
}

func TestClient_FetchDetailEscapesTitle(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pages/a%2Fb%20c", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(mirror.MirroredContent{
			ID:      "id-1",
			Title:   "a/b c",
			Updated: 50,
			Lines:   []mirror.Line{{ID: "l1", Text: "a/b c"}},
		})
	}))

	detail, err := c.FetchDetail(context.Background(), "a/b c")
	require.NoError(t, err)
	require.Equal(t, "id-1", detail.ID)
	require.Equal(t, int64(50), detail.Updated)
}

func TestClient_FetchDetailNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))

	_, err := c.FetchDetail(context.Background(), "gone")
	require.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestClient_NonSuccessIsRemoteFetchError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := c.ListPage(context.Background(), 0, 1)
	var remote *RemoteFetchError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, http.StatusBadGateway, remote.Status)
	require.Contains(t, remote.Body, "upstream down")
	require.False(t, errors.Is(err, mirror.ErrNotFound))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}
