package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oritocare/companion/internal/core"
)

// systemPrompt is the fixed first message of every conversation.
const systemPrompt = `You are Orito, a warm and patient voice companion for an elderly person living with memory difficulties. You speak simply, kindly and in short sentences. You never mention being an AI or a language model. When the user asks about their medications, reminders, journal, family, location or the Aura device, you use your tools to look up the real answer instead of guessing. If something worrying happens you stay calm and reassuring.`

// contextPreamble renders what we know about the user plus the current
// emotional read, prepended to the user message so the model sees it
// without a separate system turn.
func contextPreamble(uc core.UserContext, emotion Emotion) string {
	var parts []string
	if uc.Name != "" {
		parts = append(parts, "The user's name is "+uc.Name+".")
	}
	if uc.Condition != "" {
		condition := uc.Condition
		if uc.Severity != "" {
			condition += " (" + uc.Severity + ")"
		}
		parts = append(parts, "They live with "+condition+".")
	}
	if len(uc.Preferences) > 0 {
		parts = append(parts, "They enjoy "+strings.Join(uc.Preferences, ", ")+".")
	}
	if len(uc.RecentEmotions) > 0 {
		parts = append(parts, "Recently they have seemed "+strings.Join(uc.RecentEmotions, ", ")+".")
	}
	if emotion.Primary != "neutral" {
		parts = append(parts, fmt.Sprintf("Right now they sound %s (%s).", emotion.Primary, emotion.Intensity))
	}
	if len(parts) == 0 {
		return ""
	}
	return "[Context: " + strings.Join(parts, " ") + "]\n"
}

// RefreshUserContext pulls the authoritative profile from the backend
// and folds it into the cached user context. The cache is never
// authoritative; a successful refresh always supersedes it.
func (a *Agent) RefreshUserContext(ctx context.Context) error {
	profile, err := a.backend.UserProfile(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.userContext.Name = profile.Name
	a.userContext.Age = profile.Age
	a.userContext.Condition = profile.Condition
	a.userContext.Severity = profile.Severity
	a.userContext.Preferences = profile.Preferences
	a.userContext.LastInteraction = time.Now()
	a.mu.Unlock()

	a.persistUserContext()
	return nil
}
