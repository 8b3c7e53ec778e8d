package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/transcript"
)

// Repository is the Postgres implementation of transcript.Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping transcript db: %w", err)
	}
	return nil
}

func (r *Repository) CreateSession(ctx context.Context, in transcript.CreateSessionInput) (transcript.Session, error) {
	if strings.TrimSpace(in.Model) == "" {
		return transcript.Session{}, fmt.Errorf("model is required")
	}
	session := transcript.Session{
		SessionID: uuid.NewString(),
		Principal: in.Principal,
		Model:     in.Model,
	}

	query := `
INSERT INTO chat_session (session_id, principal, model)
VALUES ($1, $2, $3)
RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, session.SessionID, session.Principal, session.Model).Scan(&session.CreatedAt); err != nil {
		return transcript.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (transcript.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return transcript.Session{}, transcript.ErrNotFound
	}
	query := `
SELECT session_id, principal, model, created_at
FROM chat_session
WHERE session_id = $1`

	var session transcript.Session
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.Principal,
		&session.Model,
		&session.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transcript.Session{}, transcript.ErrNotFound
		}
		return transcript.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (r *Repository) AppendMessage(ctx context.Context, in transcript.AppendMessageInput) (transcript.Message, error) {
	if err := transcript.ValidateAppend(in); err != nil {
		return transcript.Message{}, err
	}
	message := transcript.Message{
		MessageID: uuid.NewString(),
		SessionID: in.SessionID,
		Role:      in.Role,
		Content:   in.Content,
		Code:      in.Code,
		Data:      in.Data,
		Error:     in.Error,
		Attempts:  in.Attempts,
	}

	query := `
INSERT INTO chat_message (message_id, session_id, role, content, code, data, error, attempts)
SELECT $1, s.session_id, $3, $4, $5, $6, $7, $8
FROM chat_session s
WHERE s.session_id = $2
RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query,
		message.MessageID,
		message.SessionID,
		message.Role,
		message.Content,
		message.Code,
		message.Data,
		message.Error,
		message.Attempts,
	).Scan(&message.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transcript.Message{}, transcript.ErrNotFound
		}
		return transcript.Message{}, fmt.Errorf("append message: %w", err)
	}
	return message, nil
}

func (r *Repository) ListMessages(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT message_id, session_id, role, content, code, data, error, attempts, created_at
FROM chat_message
WHERE session_id = $1
ORDER BY message_seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]transcript.Message, 0)
	for rows.Next() {
		var message transcript.Message
		if err := rows.Scan(
			&message.MessageID,
			&message.SessionID,
			&message.Role,
			&message.Content,
			&message.Code,
			&message.Data,
			&message.Error,
			&message.Attempts,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (r *Repository) RecordAsk(ctx context.Context, audit transcript.AskAudit) error {
	var sessionID any
	if audit.SessionID != "" {
		sessionID = audit.SessionID
	}
	query := `
INSERT INTO ask_audit (principal, session_id, model, question, outcome, attempts, duration_ms, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		audit.Principal,
		sessionID,
		audit.Model,
		audit.Question,
		audit.Outcome,
		audit.Attempts,
		audit.Duration.Milliseconds(),
		audit.Error,
	); err != nil {
		return fmt.Errorf("record ask audit: %w", err)
	}
	return nil
}

var _ transcript.Store = (*Repository)(nil)
