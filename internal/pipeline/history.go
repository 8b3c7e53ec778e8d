package pipeline

import "github.com/tablechat/tablechat/internal/completion"

// Turn is one completed question/answer exchange, oldest first in a history.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Code     string `json:"code,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ChatMessage is a role-tagged transcript entry. Assistant entries carry the
// code and rendered data that produced them.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Code    string `json:"code,omitempty"`
	Data    string `json:"data,omitempty"`
}

// DistillHistory pairs each user message with the assistant message directly
// after it. Unpaired messages are skipped, so a trailing pending question is
// never part of the result.
func DistillHistory(messages []ChatMessage) []Turn {
	turns := make([]Turn, 0, len(messages)/2)
	i := 0
	for i < len(messages)-1 {
		if messages[i].Role == completion.RoleUser && messages[i+1].Role == completion.RoleAssistant {
			turns = append(turns, Turn{
				Question: messages[i].Content,
				Answer:   messages[i+1].Content,
				Code:     messages[i+1].Code,
				Data:     messages[i+1].Data,
			})
			i += 2
			continue
		}
		i++
	}
	return turns
}
