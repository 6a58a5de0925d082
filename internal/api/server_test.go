package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/app"
	"github.com/JakeFAU/wiki-mirror/internal/config"
	"github.com/JakeFAU/wiki-mirror/internal/notify"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/temporal"
)

type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	syncIn    syncer.Input
	dayIn     temporal.Input
	notifyErr error
	readyErr  error
}

func (f *fakeRunner) record(name, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+":"+id)
}

func (f *fakeRunner) RunSync(_ context.Context, id string, in syncer.Input) (app.Run[syncer.Result], error) {
	f.record("sync", id)
	f.mu.Lock()
	f.syncIn = in
	f.mu.Unlock()
	return app.Run[syncer.Result]{InstanceID: id, Result: syncer.Result{Total: 3, BatchCount: 1}}, nil
}

func (f *fakeRunner) RunOnThisDay(_ context.Context, id string, in temporal.Input) (app.Run[temporal.ExtractorResult], error) {
	f.record("on-this-day", id)
	f.mu.Lock()
	f.dayIn = in
	f.mu.Unlock()
	return app.Run[temporal.ExtractorResult]{InstanceID: id}, nil
}

func (f *fakeRunner) RunIndex(_ context.Context, id string) (app.Run[temporal.IndexResult], error) {
	f.record("index", id)
	return app.Run[temporal.IndexResult]{InstanceID: id, Result: temporal.IndexResult{Days: 2}}, nil
}

func (f *fakeRunner) RunNotify(_ context.Context, id string) (app.Run[notify.Result], error) {
	f.record("notify", id)
	return app.Run[notify.Result]{InstanceID: id}, f.notifyErr
}

func (f *fakeRunner) Ready(context.Context) error {
	return f.readyErr
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestServer(runner Runner, cfg config.Config) *Server {
	return NewServer(context.Background(), runner, cfg, zap.NewNop())
}

func do(s *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(&fakeRunner{}, config.Config{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(&fakeRunner{readyErr: errors.New("db down")}, config.Config{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestServer_SyncWaitReturnsResult(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := do(newTestServer(runner, config.Config{}), http.MethodPost, "/v1/runs/sync?wait=true",
		`{"instance_id":"sync-1","cutoff":1700000000}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"instance_id":"sync-1","result":{"cutoff":0,"total":3,"batch_count":1,"instance_ids":null}}`, rec.Body.String())
	require.Equal(t, []string{"sync:sync-1"}, runner.Calls())
	require.NotNil(t, runner.syncIn.Cutoff)
	require.Equal(t, int64(1700000000), *runner.syncIn.Cutoff)
}

func TestServer_AsyncRunGeneratesInstanceID(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, config.Config{})
	rec := do(s, http.MethodPost, "/v1/runs/on-this-day-index", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"instance_id":"on-this-day-index-`)

	s.Wait()
	calls := runner.Calls()
	require.Len(t, calls, 1)
	require.True(t, strings.HasPrefix(calls[0], "index:on-this-day-index-"))
}

func TestServer_OnThisDayPassesInput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := do(newTestServer(runner, config.Config{}), http.MethodPost, "/v1/runs/on-this-day?wait=true",
		`{"fullScan":true,"start":"0101","end":"0131"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, temporal.Input{FullScan: true, Start: "0101", End: "0131"}, runner.dayIn)
}

func TestServer_OnThisDayRejectsBadRange(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	rec := do(newTestServer(runner, config.Config{}), http.MethodPost, "/v1/runs/on-this-day", `{"start":"1301"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, runner.Calls())
}

func TestServer_InvalidJSON(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(&fakeRunner{}, config.Config{}), http.MethodPost, "/v1/runs/sync", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(newTestServer(&fakeRunner{}, config.Config{}), http.MethodPost, "/v1/runs/notify", `{"unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_NotifyDisabledMapsTo503(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{notifyErr: app.ErrNotifyDisabled}
	rec := do(newTestServer(runner, config.Config{}), http.MethodPost, "/v1/runs/notify?wait=true", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	runner := &fakeRunner{}
	s := newTestServer(runner, cfg)

	rec := do(s, http.MethodPost, "/v1/runs/on-this-day-index?wait=true", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/v1/runs/on-this-day-index?wait=true", "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, config.Config{})
	do(s, http.MethodGet, "/healthz", "")
	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(panicRunner{&fakeRunner{}}, config.Config{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicRunner struct{ *fakeRunner }

func (panicRunner) Ready(context.Context) error { panic("boom") }
