//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/transcript"
	"github.com/tablechat/tablechat/internal/transcript/postgres"
)

func TestTranscriptSchemaRoundTrip(t *testing.T) {
	db := openIsolatedSchema(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runner := NewRunner()
	if applied, err := runner.Up(ctx, db, 0); err != nil || applied != 2 {
		t.Fatalf("Up() = %d, %v", applied, err)
	}
	if applied, err := runner.Up(ctx, db, 0); err != nil || applied != 0 {
		t.Fatalf("second Up() = %d, %v", applied, err)
	}

	repo := postgres.NewRepository(db)
	session, err := repo.CreateSession(ctx, transcript.CreateSessionInput{Principal: "alice", Model: "llama-3.3-70b-versatile"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	turns := []transcript.AppendMessageInput{
		{SessionID: session.SessionID, Role: transcript.RoleUser, Content: "How many clients are there?"},
		{SessionID: session.SessionID, Role: transcript.RoleAssistant, Content: "There are 20 clients.", Code: "SET VARIABLE result = (SELECT count(*) FROM clients);", Data: "20", Attempts: 1},
		{SessionID: session.SessionID, Role: transcript.RoleUser, Content: "Which are in the UK?"},
	}
	for _, in := range turns {
		if _, err := repo.AppendMessage(ctx, in); err != nil {
			t.Fatalf("AppendMessage(%s) error = %v", in.Role, err)
		}
	}
	messages, err := repo.ListMessages(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	history := pipeline.DistillHistory(transcript.ChatMessages(messages))
	if len(history) != 1 || history[0].Data != "20" {
		t.Fatalf("DistillHistory() = %#v", history)
	}
	if err := repo.RecordAsk(ctx, transcript.AskAudit{
		Principal: "alice",
		SessionID: session.SessionID,
		Model:     session.Model,
		Question:  "How many clients are there?",
		Outcome:   observability.AskOutcomeAnswered,
		Attempts:  1,
		Duration:  1500 * time.Millisecond,
	}); err != nil {
		t.Fatalf("RecordAsk() error = %v", err)
	}

	statuses, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for _, status := range statuses {
		if !status.Applied {
			t.Fatalf("migration %d not applied", status.Version)
		}
	}

	if rolledBack, err := runner.Down(ctx, db, 1); err != nil || rolledBack != 1 {
		t.Fatalf("Down(1) = %d, %v", rolledBack, err)
	}
	assertTables(t, db, map[string]bool{"chat_session": true, "chat_message": true, "ask_audit": false})
	if rolledBack, err := runner.Down(ctx, db, 0); err != nil || rolledBack != 1 {
		t.Fatalf("Down(0) = %d, %v", rolledBack, err)
	}
	assertTables(t, db, map[string]bool{"chat_session": false, "chat_message": false})
}

// openIsolatedSchema creates a throwaway schema and returns a pool whose
// search_path points at it, so unqualified DDL lands there.
func openIsolatedSchema(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TABLECHAT_TEST_TRANSCRIPT_DSN"))
	if dsn == "" {
		t.Skip("TABLECHAT_TEST_TRANSCRIPT_DSN is not set")
	}

	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	schema := fmt.Sprintf("tablechat_it_%d", time.Now().UnixNano())
	if _, err := admin.Exec(`CREATE SCHEMA ` + schema); err != nil {
		t.Fatalf("CREATE SCHEMA failed: %v", err)
	}
	t.Cleanup(func() {
		defer func() { _ = admin.Close() }()
		if _, err := admin.Exec(`DROP SCHEMA ` + schema + ` CASCADE`); err != nil {
			t.Errorf("DROP SCHEMA failed: %v", err)
		}
	})

	parsed, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	query := parsed.Query()
	query.Set("search_path", schema)
	parsed.RawQuery = query.Encode()

	db, err := sql.Open("pgx", parsed.String())
	if err != nil {
		t.Fatalf("sql.Open(schema) error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func assertTables(t *testing.T, db *sql.DB, want map[string]bool) {
	t.Helper()
	for table, expected := range want {
		var exists bool
		err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("table %q lookup failed: %v", table, err)
		}
		if exists != expected {
			t.Fatalf("table %q exists = %v, want %v", table, exists, expected)
		}
	}
}
