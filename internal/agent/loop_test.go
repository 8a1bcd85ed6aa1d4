package agent

import (
	"fmt"
	"testing"

	"github.com/oritocare/companion/internal/core"
)

func TestTrimHistoryKeepsSystemFirst(t *testing.T) {
	history := []core.Message{{Role: "system", Content: systemPrompt}}
	for i := 0; i < 30; i++ {
		history = append(history,
			core.Message{Role: "user", Content: fmt.Sprintf("question %d", i)},
			core.Message{Role: "assistant", Content: fmt.Sprintf("answer %d", i)},
		)
	}

	trimmed := trimHistory(history)

	if trimmed[0].Role != "system" || trimmed[0].Content != systemPrompt {
		t.Fatal("trimmed history must begin with the fixed system message")
	}
	nonSystem := 0
	for _, msg := range trimmed {
		if msg.Role != "system" {
			nonSystem++
		}
	}
	if nonSystem != maxRetainedMessages {
		t.Errorf("retained %d non-system messages, want %d", nonSystem, maxRetainedMessages)
	}
	last := trimmed[len(trimmed)-1]
	if last.Content != "answer 29" {
		t.Errorf("last message = %q, want the newest answer", last.Content)
	}
}

func TestTrimHistoryDropsToolMessages(t *testing.T) {
	history := []core.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "what are my medications"},
		{Role: "assistant", ToolCalls: []core.ToolCall{{ID: "1", Type: "function"}}},
		{Role: "tool", Content: "Medications: aspirin.", ToolCallID: "1"},
		{Role: "assistant", Content: "You take aspirin."},
	}

	trimmed := trimHistory(history)

	for _, msg := range trimmed {
		if msg.Role == "tool" {
			t.Fatal("tool messages must not be retained")
		}
		if len(msg.ToolCalls) > 0 {
			t.Fatal("tool-call carrier messages must not be retained")
		}
	}
	if len(trimmed) != 3 {
		t.Errorf("len = %d, want 3 (system, user, assistant)", len(trimmed))
	}
}

func TestResetConversation(t *testing.T) {
	a := New(Config{})
	a.appendHistory(core.Message{Role: "user", Content: "hello"})
	a.appendHistory(core.Message{Role: "assistant", Content: "hi there"})

	a.ResetConversation()

	history := a.History()
	if len(history) != 1 {
		t.Fatalf("len = %d, want 1", len(history))
	}
	if history[0].Role != "system" || history[0].Content != systemPrompt {
		t.Error("reset history must contain only the fixed system message")
	}
}

func TestRecoveryPhraseInCharacter(t *testing.T) {
	kinds := []core.Kind{
		core.KindNetwork, core.KindTimeout, core.KindAIService,
		core.KindModuleOffline, core.KindUnknown,
	}
	for _, kind := range kinds {
		phrase := RecoveryPhrase(kind)
		if phrase == "" {
			t.Errorf("no recovery phrase for %s", kind)
		}
	}

	// An unmapped kind falls back to the unknown phrases.
	if RecoveryPhrase(core.KindPermissionDenied) == "" {
		t.Error("unmapped kind should fall back, not return empty")
	}
}
