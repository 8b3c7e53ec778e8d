package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunHealthCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotPrincipal string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotPrincipal = r.Header.Get("X-Principal")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-principal", "alice",
		"health",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/health" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotPrincipal != "alice" {
		t.Fatalf("headers api_key=%q principal=%q", gotAPIKey, gotPrincipal)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunSchemaPrintsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"schema":"=== DATABASE SCHEMA ===\nTable: clients"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "schema"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout.String() != "=== DATABASE SCHEMA ===\nTable: clients\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskSendsQuestion(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Completion-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"answer":"There are 20 clients.","code":"SET VARIABLE result = 20;","data":"20","attempts":1}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-completion-key", "ck",
		"-model", "model-a",
		"ask", "-show-code", "How", "many", "clients?",
	}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/ask" || gotKey != "ck" {
		t.Fatalf("request path=%q key=%q", gotPath, gotKey)
	}
	if gotBody["question"] != "How many clients?" || gotBody["model"] != "model-a" {
		t.Fatalf("body = %#v", gotBody)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "There are 20 clients.\n") || !strings.Contains(out, "SET VARIABLE result = 20;") {
		t.Fatalf("stdout = %q", out)
	}
}

func TestRunAskInSession(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"answer":"Two of them.","attempts":1}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-model", "ignored-in-session",
		"ask", "-session", "s-1", "-retry-budget", "3", "Which of those are in the UK?",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/sessions/s-1/ask" {
		t.Fatalf("path = %q", gotPath)
	}
	if _, ok := gotBody["model"]; ok {
		t.Fatalf("session ask should not send a model: %#v", gotBody)
	}
	if gotBody["retry_budget"] != float64(3) {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	var stderr bytes.Buffer
	if code := Run(context.Background(), []string{"ask"}, Options{Stderr: &stderr}); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunSessionNewPrintsID(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"session_id":"6f1c1f2e-1d7a-4f6b-9a55-8f0d4c6b2e11"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"-base-url", srv.URL, "session-new"}, Options{Stdout: &stdout}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/sessions" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if stdout.String() != "6f1c1f2e-1d7a-4f6b-9a55-8f0d4c6b2e11\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunHistoryCommand(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	if code := Run(context.Background(), []string{"-base-url", srv.URL, "history", "s-9"}, Options{}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/sessions/s-9/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if code := Run(context.Background(), []string{"-base-url", srv.URL, "history"}, Options{}); code != 2 {
		t.Fatalf("missing id exit code = %d", code)
	}
}

func TestRunEvalWritesReport(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			_, _ = w.Write([]byte(`{"answer":"| a | b |\nrow","attempts":1}`))
		case 2:
			_, _ = w.Write([]byte(`{"answer":"gave up","error":"Binder Error: x","attempts":2}`))
		case 3:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error_code":"COMPLETION_FAILED"}`))
		default:
			_, _ = w.Write([]byte(`{"answer":"ok","attempts":1}`))
		}
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "results.md")
	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "eval", "-out", out}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if calls != len(EvalQuestions) {
		t.Fatalf("calls = %d, want %d", calls, len(EvalQuestions))
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if lines[0] != "# Test Results" || lines[2] != "| Question | Answer |" || lines[3] != "|----------|--------|" {
		t.Fatalf("header = %#v", lines[:4])
	}
	if len(lines) != 4+len(EvalQuestions) {
		t.Fatalf("report lines = %d", len(lines))
	}
	if lines[4] != `| List all clients with their industries. | \| a \| b \|<br>row |` {
		t.Fatalf("first row = %q", lines[4])
	}
	if !strings.Contains(lines[5], "ERROR: Binder Error: x") {
		t.Fatalf("second row = %q", lines[5])
	}
	if !strings.Contains(lines[6], "ERROR: http 502") {
		t.Fatalf("third row = %q", lines[6])
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ready"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 403") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
