package completion

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Client returns the text of a single chat completion. Implementations are
// stateless per call; any transport, auth or quota failure is returned as an
// error.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
