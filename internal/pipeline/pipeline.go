package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/completion"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/sandbox"
)

const (
	DefaultRetryBudget  = 2
	DefaultPreviewLimit = 2000
	DefaultMaxTokens    = 2048
)

// Executor runs a generated script. Script failures must be reported as
// *sandbox.ExecError; any other error aborts the ask.
type Executor interface {
	Execute(ctx context.Context, code string) (sandbox.Result, error)
}

type Config struct {
	Model        string
	MaxTokens    int
	RetryBudget  int
	PreviewLimit int
}

type AskRequest struct {
	Question    string
	History     []Turn
	RetryBudget int
}

// AskResult is the outcome of one ask. Error is empty on success; after the
// retry budget is spent it holds the last execution trace and Answer is
// ExhaustedAnswer.
type AskResult struct {
	Answer   string `json:"answer"`
	Code     string `json:"code"`
	Data     string `json:"data"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// Pipeline binds one completion credential, one model, the schema context and
// an executor. It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	client   completion.Client
	executor Executor
	schema   string
	cfg      Config
	logger   *slog.Logger
}

func New(client completion.Client, executor Executor, schema string, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}
	return &Pipeline{
		client:   client,
		executor: executor,
		schema:   schema,
		cfg:      cfg,
		logger:   observability.Component(logger, "pipeline"),
	}, nil
}

func (p *Pipeline) Model() string {
	return p.cfg.Model
}

// Ask generates a script for the question, executes it and narrates the
// result. A failed execution is retried with a corrective prompt until the
// budget is spent. Completion failures and executor environment failures
// are returned as errors.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return AskResult{}, fmt.Errorf("question is required")
	}
	if req.RetryBudget < 0 {
		return AskResult{}, fmt.Errorf("retry budget must not be negative, got %d", req.RetryBudget)
	}
	budget := req.RetryBudget
	if budget == 0 {
		budget = p.cfg.RetryBudget
	}

	var code, lastTrace string
	for attempt := 1; attempt <= budget; attempt++ {
		prompt := question
		if lastTrace != "" {
			prompt = correctivePrompt(question, lastTrace)
		}

		generated, err := p.generateCode(ctx, prompt, req.History)
		if err != nil {
			observability.ObserveAsk(observability.AskOutcomeFailed, attempt)
			return AskResult{}, err
		}
		code = generated

		start := time.Now()
		result, err := p.executor.Execute(ctx, code)
		var execErr *sandbox.ExecError
		switch {
		case errors.As(err, &execErr):
			observability.ObserveExecution(time.Since(start), true)
			lastTrace = execErr.Trace
			p.logger.Info("generated script failed",
				slog.Int("attempt", attempt),
				slog.Int("budget", budget),
				slog.String("trace", lastTrace),
			)
			continue
		case err != nil:
			observability.ObserveAsk(observability.AskOutcomeFailed, attempt)
			return AskResult{}, fmt.Errorf("execute generated script: %w", err)
		}
		observability.ObserveExecution(time.Since(start), false)

		data := sandbox.Render(result)
		answer, err := p.generateAnswer(ctx, question, data, req.History)
		if err != nil {
			observability.ObserveAsk(observability.AskOutcomeFailed, attempt)
			return AskResult{}, err
		}
		observability.ObserveAsk(observability.AskOutcomeAnswered, attempt)
		return AskResult{Answer: answer, Code: code, Data: data, Attempts: attempt}, nil
	}

	observability.ObserveAsk(observability.AskOutcomeExhausted, budget)
	p.logger.Warn("retry budget exhausted", slog.Int("budget", budget))
	return AskResult{
		Answer:   ExhaustedAnswer,
		Code:     code,
		Data:     "",
		Error:    lastTrace,
		Attempts: budget,
	}, nil
}

func (p *Pipeline) generateCode(ctx context.Context, prompt string, history []Turn) (string, error) {
	text, err := p.complete(ctx, observability.StageCodeSynthesis, codeMessages(p.schema, prompt, history, p.cfg.PreviewLimit))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return completion.StripCodeFence(text), nil
}

func (p *Pipeline) generateAnswer(ctx context.Context, question, data string, history []Turn) (string, error) {
	text, err := p.complete(ctx, observability.StageAnswerSynthesis, answerMessages(question, data, history))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (p *Pipeline) complete(ctx context.Context, stage string, messages []completion.Message) (string, error) {
	start := time.Now()
	text, err := p.client.Complete(ctx, completion.Request{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   p.cfg.MaxTokens,
	})
	observability.ObserveCompletion(stage, time.Since(start), err)
	return text, err
}
