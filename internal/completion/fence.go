package completion

import "strings"

// StripCodeFence removes a markdown code fence wrapping the whole response.
// The opening fence line, including any language tag, is dropped along with
// everything from the last closing fence onwards. Unfenced text is returned
// trimmed.
func StripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	newline := strings.IndexByte(trimmed, '\n')
	if newline < 0 {
		return strings.TrimSpace(strings.Trim(trimmed, "`"))
	}
	body := trimmed[newline+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
