package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/completion"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/sandbox"
	"github.com/tablechat/tablechat/internal/storage"
	"github.com/tablechat/tablechat/internal/transcript"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointChecksTranscriptStore(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: CheckTranscriptStore(transcript.NewMemoryStore()),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if err := CheckTranscriptStore(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"TABLECHAT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:analyst")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Schema:         "SCHEMA",
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}

	body := decodeJSON(t, authResp)
	if body["schema"] != "SCHEMA" {
		t.Fatalf("schema = %v", body["schema"])
	}
}

func TestProtectedRouteFailsClosedWithoutMiddleware(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"TABLECHAT_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRoleIsEnforced(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"TABLECHAT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{AuthMiddleware: auth.Middleware(nil, validator)})

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSchemaListsModels(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"TABLECHAT_COMPLETION_MODEL":          "model-a",
		"TABLECHAT_COMPLETION_ALLOWED_MODELS": "model-a,model-b",
	})
	h := NewHandler(cfg, Dependencies{Schema: "=== DATABASE SCHEMA ==="})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	models, _ := body["models"].([]any)
	if len(models) != 2 || models[0] != "model-a" || models[1] != "model-b" {
		t.Fatalf("models = %#v", body["models"])
	}
	if body["default_model"] != "model-a" {
		t.Fatalf("default_model = %v", body["default_model"])
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckDatasetObjects(t *testing.T) {
	store := &statStore{keys: map[string]bool{
		"finance/clients.parquet":  true,
		"finance/invoices.parquet": true,
	}}
	err := CheckDatasetObjects(store, "finance")(context.Background())
	if err == nil || !strings.Contains(err.Error(), "line_items") {
		t.Fatalf("CheckDatasetObjects() error = %v", err)
	}

	store.keys["finance/line_items.parquet"] = true
	if err := CheckDatasetObjects(store, "finance")(context.Background()); err != nil {
		t.Fatalf("CheckDatasetObjects() error = %v", err)
	}
	if err := CheckDatasetObjects(nil, "finance")(context.Background()); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	cfg, err := config.Load("tablechat-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body = %s", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// fakeCompletion answers code prompts with a fixed script and answer prompts
// with a fixed sentence.
type fakeCompletion struct {
	mu       sync.Mutex
	code     string
	answer   string
	err      error
	requests []completion.Request
}

func (c *fakeCompletion) Complete(_ context.Context, req completion.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	last := req.Messages[len(req.Messages)-1].Content
	if strings.HasPrefix(last, "**Question:**") {
		return c.answer, nil
	}
	return c.code, nil
}

func (c *fakeCompletion) codeRequests() []completion.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]completion.Request, 0, len(c.requests))
	for _, req := range c.requests {
		if !strings.HasPrefix(req.Messages[len(req.Messages)-1].Content, "**Question:**") {
			out = append(out, req)
		}
	}
	return out
}

type fakeExecutor struct {
	result sandbox.Result
	trace  string
}

func (e *fakeExecutor) Execute(_ context.Context, _ string) (sandbox.Result, error) {
	if e.trace != "" {
		return sandbox.Result{}, &sandbox.ExecError{Trace: e.trace}
	}
	return e.result, nil
}

type apiFixture struct {
	handler     http.Handler
	client      *fakeCompletion
	executor    *fakeExecutor
	cache       *pipeline.Cache
	transcripts *transcript.MemoryStore
	credentials []string
}

func newAPIFixture(t *testing.T, env map[string]string, limiter *AskLimiter) *apiFixture {
	t.Helper()
	fixture := &apiFixture{
		client:      &fakeCompletion{code: "SET VARIABLE result = 3;", answer: "There are 3 clients."},
		executor:    &fakeExecutor{result: sandbox.ScalarResult(int64(3))},
		transcripts: transcript.NewMemoryStore(),
	}
	cache, err := pipeline.NewCache(func(credential, model string) (*pipeline.Pipeline, error) {
		fixture.credentials = append(fixture.credentials, credential)
		return pipeline.New(fixture.client, fixture.executor, "SCHEMA", pipeline.Config{Model: model}, nil)
	}, 4)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	fixture.cache = cache
	fixture.handler = NewHandler(loadConfig(t, env), Dependencies{
		Pipelines:   cache,
		Transcripts: fixture.transcripts,
		Schema:      "SCHEMA",
		Limiter:     limiter,
	})
	return fixture
}

func (f *apiFixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

type statStore struct {
	keys map[string]bool
}

func (s *statStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("read-only")
}

func (s *statStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (s *statStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if !s.keys[key] {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key}, nil
}
