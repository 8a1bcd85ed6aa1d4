package agent

import (
	"strings"

	"github.com/oritocare/companion/internal/core"
)

// groundingWindow is how many trailing non-system messages are checked
// for a previously stated module status.
const groundingWindow = 8

var moduleWords = []string{"aura", "module", "camera"}

var statusWords = []string{"connected", "disconnected", "online", "offline", "status", "working", "reachable"}

var denialPhrases = []string{
	"no it's not", "no it isn't", "that's wrong", "that's not true",
	"not true", "you're wrong", "it is not connected", "it's not connected",
	"it's not working", "it isn't working",
}

// NeedsGrounding reports whether the turn must verify the module status
// before the model replies: either the user is asking about module
// connectivity, or they are contradicting a status the assistant stated
// within the recent window.
func NeedsGrounding(text string, history []core.Message) bool {
	lower := strings.ToLower(text)

	if mentionsAny(lower, moduleWords) && mentionsAny(lower, statusWords) {
		return true
	}

	denies := false
	for _, phrase := range denialPhrases {
		if strings.Contains(lower, phrase) {
			denies = true
			break
		}
	}
	if !denies {
		return false
	}

	// A denial only matters if the assistant recently asserted a status.
	recent := lastNonSystem(history, groundingWindow)
	for _, msg := range recent {
		if msg.Role != "assistant" {
			continue
		}
		content := strings.ToLower(msg.Content)
		if mentionsAny(content, moduleWords) && mentionsAny(content, statusWords) {
			return true
		}
	}
	return false
}

// GroundingNote renders the verified status as a system assertion the
// model must not contradict.
func GroundingNote(snapshot *core.AuraStatusSnapshot) string {
	var b strings.Builder
	b.WriteString("Verified just now: the Aura module is ")
	if snapshot.Connected {
		b.WriteString("connected")
		if snapshot.IP != "" {
			b.WriteString(" at ")
			b.WriteString(snapshot.IP)
		}
		if len(snapshot.Features) > 0 {
			b.WriteString(" with ")
			b.WriteString(strings.Join(snapshot.Features, ", "))
			b.WriteString(" available")
		}
	} else {
		b.WriteString("offline")
	}
	b.WriteString(". State this status as fact and do not contradict it.")
	return b.String()
}

func mentionsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// lastNonSystem returns up to n trailing non-system messages in order.
func lastNonSystem(history []core.Message, n int) []core.Message {
	out := make([]core.Message, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Role == "system" {
			continue
		}
		out = append(out, history[i])
	}
	// restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
