package supervisor

import "strings"

// ContinuationPrompt builds the prompt for a resumed burst from the original
// description and the tail captured when the previous burst stopped.
func ContinuationPrompt(description string, tail []string) string {
	var b strings.Builder
	b.WriteString("Continue working on the following task. Pick up where the previous run left off; do not start over.\n\n")
	b.WriteString("Task:\n")
	b.WriteString(description)
	if len(tail) > 0 {
		b.WriteString("\n\nMost recent output from the previous run:\n")
		b.WriteString(strings.Join(tail, "\n"))
	}
	return b.String()
}
