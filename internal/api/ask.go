package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/completion"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/transcript"
)

const (
	completionKeyHeader = "X-Completion-Key"
	principalHeader     = "X-Principal"
	anonymousPrincipal  = "anonymous"
)

type server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
}

type askRequest struct {
	Question    string          `json:"question"`
	History     []pipeline.Turn `json:"history"`
	Model       string          `json:"model"`
	RetryBudget int             `json:"retry_budget"`
}

type askResponse struct {
	pipeline.AskResult
	Model string `json:"model"`
}

func (s *server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	models := append([]string{s.cfg.Completion.Model}, s.cfg.Completion.AllowedModels...)
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":        s.deps.Schema,
		"default_model": s.cfg.Completion.Model,
		"models":        dedupe(models),
	})
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.admitAsk(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if !validRetryBudget(w, r, req.RetryBudget) {
		return
	}
	model, ok := s.resolveModel(w, r, req.Model)
	if !ok {
		return
	}
	p, ok := s.resolvePipeline(w, r, model)
	if !ok {
		return
	}

	result, err := s.ask(r.Context(), p, principal, "", pipeline.AskRequest{
		Question:    req.Question,
		History:     req.History,
		RetryBudget: req.RetryBudget,
	})
	if err != nil {
		writeAskError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{AskResult: result, Model: model})
}

// validRetryBudget rejects negative budgets; zero selects the pipeline
// default.
func validRetryBudget(w http.ResponseWriter, r *http.Request, budget int) bool {
	if budget < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_RETRY_BUDGET", "retry_budget must be a positive integer", false, map[string]any{"retry_budget": budget})
		return false
	}
	return true
}

type evictRequest struct {
	Model string `json:"model"`
}

// handleEvict drops the caller's cached pipelines, for one model or all of
// them.
func (s *server) handleEvict(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if s.deps.Pipelines == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINES_NOT_CONFIGURED", "pipeline cache is not configured", false, nil)
		return
	}
	credential, ok := s.credential(w, r)
	if !ok {
		return
	}
	var req evictRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid evict request body", false, map[string]any{"details": err.Error()})
		return
	}

	evicted := 0
	if model := strings.TrimSpace(req.Model); model != "" {
		if s.deps.Pipelines.Evict(credential, model) {
			evicted = 1
		}
	} else {
		evicted = s.deps.Pipelines.EvictCredential(credential)
	}
	writeJSON(w, http.StatusOK, map[string]any{"evicted": evicted})
}

// admitAsk applies the role check and the per-principal rate limit shared by
// every ask route.
func (s *server) admitAsk(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	principal := principalFromRequest(r)
	if !s.deps.Limiter.Allow(principal) {
		writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "ask rate limit exceeded", true, map[string]any{"principal": principal})
		return "", false
	}
	return principal, true
}

func (s *server) resolveModel(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	model := strings.TrimSpace(requested)
	if model == "" {
		model = s.cfg.Completion.Model
	}
	if !s.cfg.Completion.ModelAllowed(model) {
		writeError(r.Context(), w, http.StatusBadRequest, "MODEL_NOT_ALLOWED", fmt.Sprintf("model %q is not allowed", model), false, nil)
		return "", false
	}
	return model, true
}

func (s *server) resolvePipeline(w http.ResponseWriter, r *http.Request, model string) (*pipeline.Pipeline, bool) {
	if s.deps.Pipelines == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINES_NOT_CONFIGURED", "pipeline cache is not configured", false, nil)
		return nil, false
	}
	credential, ok := s.credential(w, r)
	if !ok {
		return nil, false
	}
	p, err := s.deps.Pipelines.Get(credential, model)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_UNAVAILABLE", "failed to build pipeline", true, map[string]any{"details": err.Error()})
		return nil, false
	}
	return p, true
}

// credential prefers the caller's completion key and falls back to the
// server-wide key.
func (s *server) credential(w http.ResponseWriter, r *http.Request) (string, bool) {
	credential := strings.TrimSpace(r.Header.Get(completionKeyHeader))
	if credential == "" {
		credential = s.cfg.Completion.APIKey
	}
	if credential == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "COMPLETION_KEY_REQUIRED", completionKeyHeader+" header is required", false, nil)
		return "", false
	}
	return credential, true
}

// ask runs the pipeline and writes an audit record for the outcome.
func (s *server) ask(ctx context.Context, p *pipeline.Pipeline, principal, sessionID string, req pipeline.AskRequest) (pipeline.AskResult, error) {
	start := time.Now()
	result, err := p.Ask(ctx, req)

	audit := transcript.AskAudit{
		Principal: principal,
		SessionID: sessionID,
		Model:     p.Model(),
		Question:  req.Question,
		Attempts:  result.Attempts,
		Duration:  time.Since(start),
	}
	switch {
	case err != nil:
		audit.Outcome = observability.AskOutcomeFailed
		audit.Error = err.Error()
	case result.Error != "":
		audit.Outcome = observability.AskOutcomeExhausted
		audit.Error = result.Error
	default:
		audit.Outcome = observability.AskOutcomeAnswered
	}
	observability.Annotate(ctx,
		slog.String("principal", principal),
		slog.String("model", audit.Model),
		slog.String("outcome", audit.Outcome),
		slog.Int("attempts", audit.Attempts),
	)
	if s.deps.Transcripts != nil {
		if auditErr := s.deps.Transcripts.RecordAsk(ctx, audit); auditErr != nil {
			s.logger.WarnContext(ctx, "ask audit failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("error", auditErr.Error()),
			)
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "ask failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("principal", principal),
			slog.String("model", p.Model()),
			slog.String("error", err.Error()),
		)
	}
	return result, err
}

func writeAskError(ctx context.Context, w http.ResponseWriter, err error) {
	var statusErr *completion.StatusError
	switch {
	case errors.As(err, &statusErr):
		retryable := statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
		writeError(ctx, w, http.StatusBadGateway, "COMPLETION_FAILED", "completion service rejected the request", retryable, map[string]any{"upstream_status": statusErr.StatusCode})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "ASK_TIMEOUT", "ask did not finish in time", true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "ASK_FAILED", "ask failed", true, map[string]any{"details": err.Error()})
	}
}

func principalFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if principal := strings.TrimSpace(identity.Principal); principal != "" {
			return principal
		}
	}
	if principal := strings.TrimSpace(r.Header.Get(principalHeader)); principal != "" {
		return principal
	}
	return anonymousPrincipal
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) || identity.HasRole(auth.RoleAdmin) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func isAdmin(r *http.Request) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	return ok && identity.HasRole(auth.RoleAdmin)
}

// decodeBody rejects unknown fields. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
