package agent

import "strings"

// Data domains the tool table actually covers. A mention alone is not
// enough; the message must also carry an action intent.
var domainKeywords = []string{
	"medication", "medications", "medicine", "pill", "pills",
	"reminder", "reminders", "appointment",
	"journal", "diary",
	"relative", "relatives", "family", "daughter", "son", "caregiver",
	"location", "address",
	"alert", "sos",
}

var actionKeywords = []string{
	"add", "update", "change", "delete", "remove", "cancel",
	"show", "list", "check", "set", "create",
	"mark", "take", "took", "taken", "complete", "call",
}

// lookupPrefixes force tools on direct factual questions regardless of
// action keywords, so the model never answers them from its own memory.
var lookupPrefixes = []string{
	"what are my", "what's my", "what is my",
	"who is", "who are my", "who's",
	"do i have", "when is my", "where is",
}

// ShouldForceTools decides whether the completion call pins
// tool_choice=required for this message.
func ShouldForceTools(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, prefix := range lookupPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	domain := false
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			domain = true
			break
		}
	}
	if !domain {
		return false
	}
	for _, kw := range actionKeywords {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

// containsWord matches kw on word boundaries so "add" does not fire on
// "address".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '\''
}
