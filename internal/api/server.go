package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-mirror/internal/app"
	"github.com/JakeFAU/wiki-mirror/internal/config"
	"github.com/JakeFAU/wiki-mirror/internal/id/uuid"
	"github.com/JakeFAU/wiki-mirror/internal/metrics"
	"github.com/JakeFAU/wiki-mirror/internal/notify"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/temporal"
)

// Runner starts workflow instances.
type Runner interface {
	RunSync(ctx context.Context, instanceID string, in syncer.Input) (app.Run[syncer.Result], error)
	RunOnThisDay(ctx context.Context, instanceID string, in temporal.Input) (app.Run[temporal.ExtractorResult], error)
	RunIndex(ctx context.Context, instanceID string) (app.Run[temporal.IndexResult], error)
	RunNotify(ctx context.Context, instanceID string) (app.Run[notify.Result], error)
	Ready(ctx context.Context) error
}

// Server wires HTTP handlers to the workflow runner.
type Server struct {
	router chi.Router
	runner Runner
	logger *zap.Logger
	// base parents asynchronous runs so shutdown cancels them.
	base context.Context
	wg   sync.WaitGroup
}

type runRequest struct {
	InstanceID string `json:"instance_id"`
}

type syncRequest struct {
	runRequest
	syncer.Input
}

type onThisDayRequest struct {
	runRequest
	temporal.Input
}

type runFunc func(ctx context.Context, instanceID string) (any, error)

// NewServer constructs a Server with middleware and routes. base bounds the
// lifetime of runs started without ?wait=true.
func NewServer(base context.Context, runner Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{runner: runner, logger: logger.Named("api"), base: base}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/"+syncer.WorkflowName, s.startSync)
		r.Post("/"+temporal.ExtractorWorkflow, s.startOnThisDay)
		r.Post("/"+temporal.IndexWorkflow, s.simpleRun(temporal.IndexWorkflow, func(ctx context.Context, id string) (any, error) {
			return s.runner.RunIndex(ctx, id)
		}))
		r.Post("/"+notify.WorkflowName, s.simpleRun(notify.WorkflowName, func(ctx context.Context, id string) (any, error) {
			return s.runner.RunNotify(ctx, id)
		}))
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every asynchronous run has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Ready(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.start(w, r, syncer.WorkflowName, req.InstanceID, func(ctx context.Context, id string) (any, error) {
		return s.runner.RunSync(ctx, id, req.Input)
	})
}

func (s *Server) startOnThisDay(w http.ResponseWriter, r *http.Request) {
	var req onThisDayRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.start(w, r, temporal.ExtractorWorkflow, req.InstanceID, func(ctx context.Context, id string) (any, error) {
		return s.runner.RunOnThisDay(ctx, id, req.Input)
	})
}

func (s *Server) simpleRun(workflowName string, fn runFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		s.start(w, r, workflowName, req.InstanceID, fn)
	}
}

// start runs fn inline when ?wait=true, otherwise in the background after
// replying 202 with the instance id.
func (s *Server) start(w http.ResponseWriter, r *http.Request, workflowName, instanceID string, fn runFunc) {
	if instanceID == "" {
		id, err := uuid.WithPrefix(workflowName).NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate instance id: %v", err))
			return
		}
		instanceID = id
	}
	logger := s.logger.With(
		zap.String("workflow", workflowName),
		zap.String("instance_id", instanceID),
		zap.String("request_id", RequestID(r.Context())),
	)

	if r.URL.Query().Get("wait") == "true" {
		res, err := fn(r.Context(), instanceID)
		if err != nil {
			logger.Error("run failed", zap.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := fn(s.base, instanceID); err != nil {
			logger.Error("run failed", zap.Error(err))
			return
		}
		logger.Info("run finished")
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": instanceID, "status": "started"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, temporal.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotifyDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
