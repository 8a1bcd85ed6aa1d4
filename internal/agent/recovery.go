package agent

import (
	"math/rand"

	"github.com/oritocare/companion/internal/core"
)

// recoveryPhrases keeps every failure in character. Raw error strings
// never reach the user.
var recoveryPhrases = map[core.Kind][]string{
	core.KindNetwork: {
		"I'm having a little trouble reaching the internet right now. Let's try again in a moment.",
		"The connection seems shaky. Give me a minute and ask me again.",
		"I can't get online just now, but I'm still here with you.",
	},
	core.KindTimeout: {
		"That took longer than it should have. Could you ask me once more?",
		"Sorry, I lost my train of thought there. Let's try that again.",
	},
	core.KindAIService: {
		"My thinking is a bit slow at the moment. Let's try again shortly.",
		"I couldn't quite put my thoughts together. Would you ask me again?",
		"Something on my end hiccupped. I'm still listening, though.",
	},
	core.KindModuleOffline: {
		"I can't reach the Aura device right now. I'll keep trying to find it.",
		"The Aura device seems to be asleep. Let's check on it in a bit.",
	},
	core.KindUnknown: {
		"Something unexpected happened, but don't worry, I'm still here.",
		"I stumbled a little there. Could you say that again?",
	},
}

// Specific actionable messages for non-recoverable failures.
const (
	permissionDeniedReply = "It looks like I'm not signed in properly. Please ask your caregiver to check the app settings."
	modelDeprecatedReply  = "My assistant service needs an update before I can chat. Please let your caregiver know."
)

// RecoveryPhrase picks one randomized in-character phrase for the kind.
func RecoveryPhrase(kind core.Kind) string {
	phrases, ok := recoveryPhrases[kind]
	if !ok || len(phrases) == 0 {
		phrases = recoveryPhrases[core.KindUnknown]
	}
	return phrases[rand.Intn(len(phrases))]
}
