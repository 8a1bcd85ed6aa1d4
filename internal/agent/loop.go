// Package agent implements the tool-augmented conversational loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oritocare/companion/internal/backend"
	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/llm"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/storage"
	"github.com/oritocare/companion/internal/tools"
)

// maxRetainedMessages bounds the non-system history kept between turns.
const maxRetainedMessages = 20

// Sampling parameters per channel. Voice replies are read aloud, so
// they run warmer and much shorter.
const (
	textTemperature  = 0.7
	textMaxTokens    = 400
	voiceTemperature = 0.8
	voiceMaxTokens   = 120
)

const voiceHint = "The user is speaking by voice and your reply will be read aloud. Keep it to one or two short, warm sentences."

// interactionLogTimeout bounds the fire-and-forget analytics call.
const interactionLogTimeout = 10 * time.Second

// Agent runs the per-turn conversation algorithm. History and user
// context are mutated only from the single in-flight turn; a concurrent
// SendMessage while one is pending is dropped, not queued.
type Agent struct {
	llm     *llm.Client
	tools   *tools.Service
	backend *backend.Client
	slots   *storage.SlotStore
	log     *logging.Logger

	sending atomic.Bool

	mu          sync.Mutex
	history     []core.Message
	userContext core.UserContext
}

// Config for the agent
type Config struct {
	LLM     *llm.Client
	Tools   *tools.Service
	Backend *backend.Client
	Slots   *storage.SlotStore
}

// New creates the agent, restoring persisted history and user context.
func New(cfg Config) *Agent {
	a := &Agent{
		llm:     cfg.LLM,
		tools:   cfg.Tools,
		backend: cfg.Backend,
		slots:   cfg.Slots,
		log:     logging.Component("agent"),
	}
	a.restore()
	return a
}

// restore loads persisted state; missing slots start a fresh conversation.
func (a *Agent) restore() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.slots != nil {
		var history []core.Message
		if err := a.slots.Get(storage.SlotConversationHistory, &history); err == nil {
			a.history = trimHistory(history)
		}
		var uc core.UserContext
		if err := a.slots.Get(storage.SlotUserContext, &uc); err == nil {
			a.userContext = uc
		}
	}

	if len(a.history) == 0 || a.history[0].Role != "system" {
		a.history = append([]core.Message{{Role: "system", Content: systemPrompt}}, a.history...)
	}
}

// ResetConversation clears the history back to the fixed system message.
func (a *Agent) ResetConversation() {
	a.mu.Lock()
	a.history = []core.Message{{Role: "system", Content: systemPrompt}}
	a.mu.Unlock()
	a.persistHistory()
}

// History returns a copy of the current conversation history.
func (a *Agent) History() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.Message, len(a.history))
	copy(out, a.history)
	return out
}

// SendMessage runs one text conversation turn and returns the reply.
// Failures are absorbed into in-character replies; the only error this
// returns is core.ErrTurnInProgress when a turn is already in flight.
func (a *Agent) SendMessage(ctx context.Context, text string) (string, error) {
	return a.send(ctx, text, false)
}

// SendVoiceMessage is the spoken-channel variant: shorter, warmer
// replies tuned for TTS playback.
func (a *Agent) SendVoiceMessage(ctx context.Context, text string) (string, error) {
	return a.send(ctx, text, true)
}

func (a *Agent) send(ctx context.Context, text string, spoken bool) (string, error) {
	if !a.sending.CompareAndSwap(false, true) {
		return "", core.ErrTurnInProgress
	}
	defer a.sending.Store(false)

	emotion := DetectEmotion(text)

	a.mu.Lock()
	if emotion.Primary != "neutral" {
		a.userContext.PushEmotion(emotion.Primary)
	}
	preamble := contextPreamble(a.userContext, emotion)
	a.mu.Unlock()

	// Danger escalation happens before the model is even invoked.
	if match, ok := DetectDanger(text); ok {
		a.escalate(ctx, match, text)
	}

	if NeedsGrounding(text, a.History()) {
		if snapshot, err := a.tools.ModuleStatus(ctx); err == nil {
			a.appendHistory(core.Message{Role: "system", Content: GroundingNote(snapshot)})
		} else {
			a.log.Warn("grounding status check failed: %v", err)
		}
	}

	a.appendHistory(core.Message{Role: "user", Content: preamble + text})

	reply := a.complete(ctx, spoken, ShouldForceTools(text))

	a.appendHistory(core.Message{Role: "assistant", Content: reply})
	a.mu.Lock()
	a.userContext.LastInteraction = time.Now()
	a.mu.Unlock()
	a.persistHistory()
	a.persistUserContext()

	go a.logInteraction(text, reply, emotion, spoken)

	return reply, nil
}

// escalate fires the emergency-alert tool directly and records a system
// note so the model knows it already happened.
func (a *Agent) escalate(ctx context.Context, match DangerMatch, text string) {
	a.log.Warn("danger phrase matched (%s, level %d), triggering automatic alert", match.Label, match.Level)

	args, _ := json.Marshal(map[string]interface{}{
		"level":  match.Level,
		"reason": fmt.Sprintf("Automatic escalation (%s): %s", match.Label, text),
	})
	result := a.tools.Registry().Execute(ctx, "trigger_emergency_alert", string(args))

	a.appendHistory(core.Message{
		Role: "system",
		Content: fmt.Sprintf("An emergency alert (level %d, %s) was already sent automatically for the user's last message. Result: %s Reassure the user that help has been notified.",
			match.Level, match.Label, result),
	})
}

// complete runs the model call plus the tool-dispatch round and returns
// the user-facing reply text. Every failure path returns an
// in-character phrase.
func (a *Agent) complete(ctx context.Context, spoken, forced bool) string {
	messages := a.History()
	if spoken {
		messages = append(messages, core.Message{Role: "system", Content: voiceHint})
	}

	req := llm.Request{
		Messages:    messages,
		Tools:       a.tools.Registry().Definitions(),
		ToolChoice:  llm.ToolChoiceAuto,
		Temperature: textTemperature,
		MaxTokens:   textMaxTokens,
	}
	if spoken {
		req.Temperature = voiceTemperature
		req.MaxTokens = voiceMaxTokens
	}
	if forced {
		req.ToolChoice = llm.ToolChoiceRequired
	}

	msg, err := a.llm.Chat(ctx, req)
	if err != nil {
		return a.failureReply(err)
	}

	// The heuristic said a tool was needed; give the model one more
	// chance before accepting a plain answer.
	if forced && len(msg.ToolCalls) == 0 {
		retry := req
		msg2, err := a.llm.Chat(ctx, retry)
		if err == nil {
			msg = msg2
		}
	}

	if len(msg.ToolCalls) == 0 {
		return a.nonEmpty(msg.Content)
	}

	// Execute each requested tool sequentially, then one follow-up call
	// for the natural-language reply.
	messages = append(messages, *msg)
	for _, call := range msg.ToolCalls {
		result := a.tools.Registry().Execute(ctx, call.Function.Name, call.Function.Arguments)
		messages = append(messages, core.Message{
			Role:       "tool",
			Content:    result,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
		})
	}

	followUp := req
	followUp.Messages = messages
	followUp.ToolChoice = llm.ToolChoiceAuto

	final, err := a.llm.Chat(ctx, followUp)
	if err != nil {
		return a.failureReply(err)
	}
	return a.nonEmpty(final.Content)
}

// failureReply maps an error onto the user-facing phrase for its kind.
func (a *Agent) failureReply(err error) string {
	a.log.Error("completion failed: %v", err)

	if errors.Is(err, core.ErrModelDeprecated) {
		return modelDeprecatedReply
	}
	kind := core.ClassifyError(err)
	if kind == core.KindPermissionDenied {
		return permissionDeniedReply
	}
	return RecoveryPhrase(kind)
}

func (a *Agent) nonEmpty(content string) string {
	if content == "" {
		return RecoveryPhrase(core.KindAIService)
	}
	return content
}

// appendHistory adds one message and trims the retained window.
func (a *Agent) appendHistory(msg core.Message) {
	a.mu.Lock()
	a.history = trimHistory(append(a.history, msg))
	a.mu.Unlock()
}

// trimHistory keeps the leading system message plus the last
// maxRetainedMessages non-system messages. Tool messages never enter
// the retained history.
func trimHistory(history []core.Message) []core.Message {
	var system []core.Message
	var rest []core.Message
	for i, msg := range history {
		if msg.Role == "tool" || len(msg.ToolCalls) > 0 {
			continue
		}
		if msg.Role == "system" && i == 0 {
			system = append(system, msg)
			continue
		}
		rest = append(rest, msg)
	}
	if len(rest) > maxRetainedMessages {
		rest = rest[len(rest)-maxRetainedMessages:]
	}
	return append(system, rest...)
}

func (a *Agent) persistHistory() {
	if a.slots == nil {
		return
	}
	a.mu.Lock()
	history := make([]core.Message, len(a.history))
	copy(history, a.history)
	a.mu.Unlock()

	if err := a.slots.Put(storage.SlotConversationHistory, history); err != nil {
		a.log.Warn("persist history: %v", err)
	}
}

func (a *Agent) persistUserContext() {
	if a.slots == nil {
		return
	}
	a.mu.Lock()
	uc := a.userContext
	a.mu.Unlock()

	if err := a.slots.Put(storage.SlotUserContext, uc); err != nil {
		a.log.Warn("persist user context: %v", err)
	}
}

// logInteraction records the turn for caregiver analytics. Best effort;
// failures are swallowed.
func (a *Agent) logInteraction(userText, reply string, emotion Emotion, spoken bool) {
	if a.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionLogTimeout)
	defer cancel()

	channel := "text"
	if spoken {
		channel = "voice"
	}
	err := a.backend.LogInteraction(ctx, backend.Interaction{
		ID:        uuid.NewString(),
		UserText:  userText,
		ReplyText: reply,
		Emotion:   emotion.Primary,
		Intensity: emotion.Intensity,
		Channel:   channel,
	})
	if err != nil {
		a.log.Debug("interaction log failed: %v", err)
	}
}
