package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps transcripts in process memory. It is used when no
// transcript DSN is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	sessions map[string]Session
	messages map[string][]Message
	audits   []AskAudit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		sessions: map[string]Session{},
		messages: map[string][]Message{},
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, in CreateSessionInput) (Session, error) {
	if strings.TrimSpace(in.Model) == "" {
		return Session{}, fmt.Errorf("model is required")
	}
	session := Session{
		SessionID: uuid.NewString(),
		Principal: in.Principal,
		Model:     in.Model,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return session, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, in AppendMessageInput) (Message, error) {
	if err := ValidateAppend(in); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[in.SessionID]; !ok {
		return Message{}, ErrNotFound
	}
	message := Message{
		MessageID: uuid.NewString(),
		SessionID: in.SessionID,
		Role:      in.Role,
		Content:   in.Content,
		Code:      in.Code,
		Data:      in.Data,
		Error:     in.Error,
		Attempts:  in.Attempts,
		CreatedAt: s.now(),
	}
	s.messages[in.SessionID] = append(s.messages[in.SessionID], message)
	return message, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return append([]Message(nil), s.messages[sessionID]...), nil
}

func (s *MemoryStore) RecordAsk(_ context.Context, audit AskAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, audit)
	return nil
}

// Audits returns a copy of every recorded ask, oldest first.
func (s *MemoryStore) Audits() []AskAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AskAudit(nil), s.audits...)
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}
