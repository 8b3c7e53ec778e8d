package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL       string
	APIKey        string
	CompletionKey string
	Principal     string
	Model         string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Stdout        io.Writer
	Stderr        io.Writer
}

type client struct {
	http          *http.Client
	baseURL       string
	apiKey        string
	completionKey string
	principal     string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tablechatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "tablechat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	completionKey := fs.String("completion-key", defaults.CompletionKey, "completion service key sent as X-Completion-Key")
	principal := fs.String("principal", defaults.Principal, "principal header (used when auth is disabled)")
	model := fs.String("model", defaults.Model, "completion model (server default when empty)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 3*time.Minute), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	c := &client{
		http:          httpClient,
		baseURL:       strings.TrimRight(*baseURL, "/"),
		apiKey:        strings.TrimSpace(*apiKey),
		completionKey: strings.TrimSpace(*completionKey),
		principal:     strings.TrimSpace(*principal),
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "health":
		return c.printJSON(ctx, http.MethodGet, "/v1/health", nil, stdout, stderr)
	case "ready":
		return c.printJSON(ctx, http.MethodGet, "/v1/ready", nil, stdout, stderr)
	case "schema":
		return c.runSchema(ctx, stdout, stderr)
	case "ask":
		return c.runAsk(ctx, rest, *model, stdout, stderr)
	case "session-new":
		return c.runSessionNew(ctx, *model, stdout, stderr)
	case "history":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "usage: tablechatctl history <session-id>")
			return 2
		}
		return c.printJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(rest[0])+"/messages", nil, stdout, stderr)
	case "evict":
		return c.printJSON(ctx, http.MethodPost, "/v1/pipelines/evict", map[string]any{"model": *model}, stdout, stderr)
	case "eval":
		return c.runEval(ctx, rest, *model, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func (c *client) runSchema(ctx context.Context, stdout, stderr io.Writer) int {
	var response struct {
		Schema string `json:"schema"`
	}
	if code := c.call(ctx, http.MethodGet, "/v1/schema", nil, &response, stderr); code != 0 {
		return code
	}
	_, _ = fmt.Fprintln(stdout, response.Schema)
	return 0
}

type askResponse struct {
	Answer    string `json:"answer"`
	Code      string `json:"code"`
	Data      string `json:"data"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

func (c *client) runAsk(ctx context.Context, args []string, model string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sessionID := fs.String("session", "", "ask within a stored session")
	retryBudget := fs.Int("retry-budget", 0, "override the server retry budget")
	showCode := fs.Bool("show-code", false, "print the generated script and rendered data")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		_, _ = fmt.Fprintln(stderr, "usage: tablechatctl ask [-session id] [-retry-budget n] [-show-code] <question>")
		return 2
	}

	path := "/v1/ask"
	body := map[string]any{"question": question}
	if *sessionID != "" {
		path = "/v1/sessions/" + url.PathEscape(*sessionID) + "/ask"
	} else if model != "" {
		body["model"] = model
	}
	if *retryBudget > 0 {
		body["retry_budget"] = *retryBudget
	}

	var response askResponse
	if code := c.call(ctx, http.MethodPost, path, body, &response, stderr); code != 0 {
		return code
	}
	_, _ = fmt.Fprintln(stdout, response.Answer)
	if *showCode {
		_, _ = fmt.Fprintf(stdout, "\n--- code (attempts: %d) ---\n%s\n", response.Attempts, response.Code)
		if response.Data != "" {
			_, _ = fmt.Fprintf(stdout, "--- data ---\n%s\n", response.Data)
		}
	}
	if response.Error != "" {
		_, _ = fmt.Fprintf(stderr, "last error: %s\n", response.Error)
	}
	return 0
}

func (c *client) runSessionNew(ctx context.Context, model string, stdout, stderr io.Writer) int {
	body := map[string]any{}
	if model != "" {
		body["model"] = model
	}
	var response struct {
		SessionID string `json:"session_id"`
	}
	if code := c.call(ctx, http.MethodPost, "/v1/sessions", body, &response, stderr); code != 0 {
		return code
	}
	_, _ = fmt.Fprintln(stdout, response.SessionID)
	return 0
}

func (c *client) printJSON(ctx context.Context, method, path string, body any, stdout, stderr io.Writer) int {
	status, responseBody, err := c.do(ctx, method, path, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if status >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", status, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// call performs a request and decodes a successful JSON response into out.
func (c *client) call(ctx context.Context, method, path string, body, out any, stderr io.Writer) int {
	if err := c.callErr(ctx, method, path, body, out); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

func (c *client) callErr(ctx context.Context, method, path string, body, out any) error {
	status, responseBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(responseBody)))
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.completionKey != "" {
		req.Header.Set("X-Completion-Key", c.completionKey)
	}
	if c.principal != "" {
		req.Header.Set("X-Principal", c.principal)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tablechatctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                 print the schema context")
	_, _ = fmt.Fprintln(w, "  ask [-session id] <q>  ask a question")
	_, _ = fmt.Fprintln(w, "  session-new            create a session and print its id")
	_, _ = fmt.Fprintln(w, "  history <session-id>   list session messages")
	_, _ = fmt.Fprintln(w, "  evict                  drop cached pipelines for the completion key")
	_, _ = fmt.Fprintln(w, "  eval [-out file]       run the evaluation questions and write a markdown report")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
