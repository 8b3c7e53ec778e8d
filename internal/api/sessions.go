package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/transcript"
)

type createSessionRequest struct {
	Model string `json:"model"`
}

type sessionAskRequest struct {
	Question    string `json:"question"`
	RetryBudget int    `json:"retry_budget"`
}

type sessionAskResponse struct {
	askResponse
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireTranscripts(w, r) {
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var req createSessionRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
		return
	}
	model, ok := s.resolveModel(w, r, req.Model)
	if !ok {
		return
	}

	session, err := s.deps.Transcripts.CreateSession(r.Context(), transcript.CreateSessionInput{
		Principal: principalFromRequest(r),
		Model:     model,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "TRANSCRIPT_ERROR", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireTranscripts(w, r) {
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	messages, err := s.deps.Transcripts.ListMessages(r.Context(), session.SessionID)
	if err != nil {
		writeTranscriptError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

// handleSessionAsk records the question, asks with the distilled transcript
// as history and records the answer. The pending question is never part of
// its own history.
func (s *server) handleSessionAsk(w http.ResponseWriter, r *http.Request) {
	if !s.requireTranscripts(w, r) {
		return
	}
	principal, ok := s.admitAsk(w, r)
	if !ok {
		return
	}
	var req sessionAskRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if !validRetryBudget(w, r, req.RetryBudget) {
		return
	}
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	p, ok := s.resolvePipeline(w, r, session.Model)
	if !ok {
		return
	}

	if _, err := s.deps.Transcripts.AppendMessage(r.Context(), transcript.AppendMessageInput{
		SessionID: session.SessionID,
		Role:      transcript.RoleUser,
		Content:   question,
	}); err != nil {
		writeTranscriptError(w, r, err)
		return
	}
	messages, err := s.deps.Transcripts.ListMessages(r.Context(), session.SessionID)
	if err != nil {
		writeTranscriptError(w, r, err)
		return
	}
	history := pipeline.DistillHistory(transcript.ChatMessages(messages))

	result, err := s.ask(r.Context(), p, principal, session.SessionID, pipeline.AskRequest{
		Question:    question,
		History:     history,
		RetryBudget: req.RetryBudget,
	})
	if err != nil {
		writeAskError(r.Context(), w, err)
		return
	}

	message, err := s.deps.Transcripts.AppendMessage(r.Context(), transcript.AppendMessageInput{
		SessionID: session.SessionID,
		Role:      transcript.RoleAssistant,
		Content:   result.Answer,
		Code:      result.Code,
		Data:      result.Data,
		Error:     result.Error,
		Attempts:  result.Attempts,
	})
	if err != nil {
		writeTranscriptError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionAskResponse{
		askResponse: askResponse{AskResult: result, Model: session.Model},
		SessionID:   session.SessionID,
		MessageID:   message.MessageID,
	})
}

// loadSession resolves the path session. Sessions owned by another
// principal are reported as missing unless the caller is an admin.
func (s *server) loadSession(w http.ResponseWriter, r *http.Request) (transcript.Session, bool) {
	session, err := s.deps.Transcripts.GetSession(r.Context(), r.PathValue("session"))
	if err != nil {
		writeTranscriptError(w, r, err)
		return transcript.Session{}, false
	}
	if session.Principal != principalFromRequest(r) && !isAdmin(r) {
		writeTranscriptError(w, r, transcript.ErrNotFound)
		return transcript.Session{}, false
	}
	return session, true
}

func (s *server) requireTranscripts(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Transcripts == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSCRIPTS_NOT_CONFIGURED", "transcript store is not configured", false, nil)
		return false
	}
	return true
}

func writeTranscriptError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, map[string]any{"session_id": r.PathValue("session")})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "TRANSCRIPT_ERROR", "transcript store failed", true, map[string]any{"details": err.Error()})
}
