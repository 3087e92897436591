package session

import "strings"

// solicitationPrefixes are last-line prefixes that reliably indicate the
// model is waiting on the user even without a trailing "?". Ported verbatim
// from original_source's looks_like_question, which is the authority named
// in §9 for the exact phrase list and matching rules.
var solicitationPrefixes = []string{
	"would you",
	"shall i",
	"do you",
	"should i",
	"let me know",
	"please confirm",
	"please let me know",
}

// looksLikeQuestion reports whether the most recent assistant turn (tool
// calls aside) reads as a question to the user: a trailing "?" is always
// sufficient; otherwise the last line is checked against solicitationPrefixes
// case-insensitively. Interrogative words alone never qualify — they
// frequently open declarative sentences ("What follows is...").
func looksLikeQuestion(lastAssistant *assistantSnapshot) bool {
	if lastAssistant == nil || len(lastAssistant.ToolCalls) > 0 {
		return false
	}
	trimmed := strings.TrimSpace(lastAssistant.Content)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	lastLine := strings.ToLower(strings.TrimSpace(lines[len(lines)-1]))
	for _, prefix := range solicitationPrefixes {
		if strings.HasPrefix(lastLine, prefix) {
			return true
		}
	}
	return false
}
