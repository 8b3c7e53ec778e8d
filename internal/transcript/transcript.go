package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/pipeline"
)

var ErrNotFound = errors.New("not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	SessionID string    `json:"session_id"`
	Principal string    `json:"principal"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Code      string    `json:"code,omitempty"`
	Data      string    `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateSessionInput struct {
	Principal string
	Model     string
}

type AppendMessageInput struct {
	SessionID string
	Role      string
	Content   string
	Code      string
	Data      string
	Error     string
	Attempts  int
}

// AskAudit records the outcome of one ask call.
type AskAudit struct {
	Principal string
	SessionID string
	Model     string
	Question  string
	Outcome   string
	Attempts  int
	Duration  time.Duration
	Error     string
}

// Store persists chat sessions and their ordered messages.
type Store interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	RecordAsk(ctx context.Context, audit AskAudit) error
	HealthCheck(ctx context.Context) error
}

// ChatMessages converts stored messages into the form the history distiller
// consumes.
func ChatMessages(messages []Message) []pipeline.ChatMessage {
	out := make([]pipeline.ChatMessage, 0, len(messages))
	for _, message := range messages {
		out = append(out, pipeline.ChatMessage{
			Role:    message.Role,
			Content: message.Content,
			Code:    message.Code,
			Data:    message.Data,
		})
	}
	return out
}

// ValidateAppend checks the fields every store requires before writing.
func ValidateAppend(in AppendMessageInput) error {
	if _, err := uuid.Parse(in.SessionID); err != nil {
		return ErrNotFound
	}
	switch in.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role %q", in.Role)
	}
	return nil
}
