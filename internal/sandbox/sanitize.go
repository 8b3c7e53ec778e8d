package sandbox

import (
	"regexp"
	"strings"
)

var importStatementPattern = regexp.MustCompile(`(?i)^\s*(import\s|from\s+\S+\s+import\s|install\s|force\s+install\s|load\s|attach\s|detach\s)`)

// Sanitize drops every line that starts, after indentation, with an
// import-style statement. Remaining lines are kept verbatim and in order.
// This is only a backstop: the engine configuration already refuses
// extension loading and file access.
func Sanitize(code string) string {
	lines := strings.Split(code, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if importStatementPattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == len(lines) {
		return code
	}
	return strings.Join(kept, "\n")
}
