package pipeline

import (
	"fmt"
	"unicode/utf8"

	"github.com/tablechat/tablechat/internal/completion"
)

const codeSystemTemplate = `You are a data analyst. Given the schema below, write a DuckDB SQL script that answers the user's question.

%s

The tables clients, invoices and line_items are already loaded. The macros line_total and to_usd are available. Do NOT install, load, attach or import anything, and do NOT read or write files.

Output ONLY the SQL script (no markdown, no explanations). Store the final answer in the reserved name result:
- CREATE TABLE result AS SELECT ... for tables and lists
- SET VARIABLE result = (SELECT ...) for a single value
- SET VARIABLE result = (SELECT list(...) FROM ...) for a bare series of values

Key rules:
- Compare dates with DATE literals, e.g. invoice_date >= DATE '2024-01-01'.
- Line total including tax = quantity * unit_price * (1 + tax_rate); use line_total(quantity, unit_price, tax_rate).
- If the question asks to "list" something, make result a table with the identifying columns.

If conversation history is provided and the user refers to a previous answer ("which of those", "from them", etc.), use the prior context to understand what they mean and write the script accordingly.`

const answerSystemPrompt = `You are a business data analyst. A code-based retrieval step already ran that filtered and computed the relevant data for the user's question. The data below is the result -- trust that it already reflects any filters (date ranges, regions, etc.) implied by the question.

Answer using ONLY this data. Use markdown tables for tabular data. Never invent numbers. If the data is empty, say so.

If there's conversation history, use it to understand follow-up references.`

const truncationMarker = "\n... (truncated)"

// ExhaustedAnswer is returned when every attempt failed to execute.
const ExhaustedAnswer = "Sorry, I couldn't retrieve the data. Try rephrasing your question."

func codeSystemPrompt(schema string) string {
	return fmt.Sprintf(codeSystemTemplate, schema)
}

func codeMessages(schema, prompt string, history []Turn, previewLimit int) []completion.Message {
	messages := []completion.Message{{Role: completion.RoleSystem, Content: codeSystemPrompt(schema)}}
	for _, turn := range history {
		messages = append(messages,
			completion.Message{Role: completion.RoleUser, Content: turn.Question},
			completion.Message{Role: completion.RoleAssistant, Content: turn.Code},
		)
		if turn.Data != "" {
			messages = append(messages, completion.Message{
				Role:    completion.RoleUser,
				Content: "[Code returned:\n```\n" + truncatePreview(turn.Data, previewLimit) + "\n```]",
			})
		}
	}
	return append(messages, completion.Message{Role: completion.RoleUser, Content: prompt})
}

func answerMessages(question, data string, history []Turn) []completion.Message {
	messages := []completion.Message{{Role: completion.RoleSystem, Content: answerSystemPrompt}}
	for _, turn := range history {
		messages = append(messages,
			completion.Message{Role: completion.RoleUser, Content: turn.Question},
			completion.Message{Role: completion.RoleAssistant, Content: turn.Answer},
		)
	}
	return append(messages, completion.Message{
		Role:    completion.RoleUser,
		Content: "**Question:** " + question + "\n\n**Retrieved data:**\n```\n" + data + "\n```",
	})
}

func correctivePrompt(question, trace string) string {
	return "The previous code raised an error:\n" + trace + "\n\nOriginal question: " + question + "\n\nPlease fix the code."
}

// truncatePreview cuts data to at most limit bytes on a rune boundary and
// appends the truncation marker.
func truncatePreview(data string, limit int) string {
	if limit <= 0 || len(data) <= limit {
		return data
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return data[:cut] + truncationMarker
}
