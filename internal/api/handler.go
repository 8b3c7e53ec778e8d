package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/storage"
	"github.com/tablechat/tablechat/internal/transcript"
)

type ReadinessCheck func(ctx context.Context) error

// PipelineCache resolves the pipeline bound to a completion credential and
// model.
type PipelineCache interface {
	Get(credential, model string) (*pipeline.Pipeline, error)
	Evict(credential, model string) bool
	EvictCredential(credential string) int
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipelines         PipelineCache
	Transcripts       transcript.Store
	Schema            string
	Limiter           *AskLimiter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	s := &server{cfg: cfg, deps: deps, logger: observability.Component(deps.Logger, "api")}
	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/schema", s.handleSchema)
	protected.HandleFunc("POST /v1/ask", s.handleAsk)
	protected.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	protected.HandleFunc("GET /v1/sessions/{session}/messages", s.handleListMessages)
	protected.HandleFunc("POST /v1/sessions/{session}/ask", s.handleSessionAsk)
	protected.HandleFunc("POST /v1/pipelines/evict", s.handleEvict)

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("POST /v1/sessions", protectedHandler)
	mux.Handle("GET /v1/sessions/{session}/messages", protectedHandler)
	mux.Handle("POST /v1/sessions/{session}/ask", protectedHandler)
	mux.Handle("POST /v1/pipelines/evict", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckTranscriptStore reports the transcript store's health.
func CheckTranscriptStore(store transcript.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("transcript store is not configured")
		}
		return store.HealthCheck(ctx)
	}
}

// CheckDatasetObjects fails while any required dataset table is missing from
// the object store.
func CheckDatasetObjects(store storage.ObjectStore, prefix string) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("object store is not configured")
		}
		missing, err := storage.MissingDatasetTables(ctx, store, prefix, dataset.RequiredTables)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("dataset tables missing from object store: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
