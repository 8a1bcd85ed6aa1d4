// Package assistant implements the voice assistant state machine.
package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/speech"
)

// stopRecognitionTimeout bounds how long a recognition stop may take
// before the UI is released anyway.
const stopRecognitionTimeout = 1500 * time.Millisecond

// WakeFunc receives the command extracted after the wake phrase.
type WakeFunc func(command string)

// StateFunc receives state machine transitions.
type StateFunc func(state core.WakeWordState)

// Assistant orchestrates wake-word detection, listening, processing and
// speaking, delegating audio work to whichever speech engine is active.
// All transitions go through a single mutex-guarded transition function,
// so overlapping start/stop calls collapse into no-ops instead of racing.
type Assistant struct {
	selector *speech.Selector

	mu    sync.Mutex
	state core.WakeWordState

	alwaysListening bool

	onWake       WakeFunc
	onTranscript speech.TranscriptFunc

	stateSubs map[int]StateFunc
	nextSubID int

	log *logging.Logger
}

// Config for the assistant
type Config struct {
	Selector        *speech.Selector
	AlwaysListening bool
}

// New creates an assistant in the idle state.
func New(cfg Config) *Assistant {
	return &Assistant{
		selector:        cfg.Selector,
		state:           core.WakeIdle,
		alwaysListening: cfg.AlwaysListening,
		stateSubs:       make(map[int]StateFunc),
		log:             logging.Component("assistant"),
	}
}

// OnWakeWord sets the wake-word callback.
func (a *Assistant) OnWakeWord(fn WakeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onWake = fn
}

// OnTranscript sets the transcription callback.
func (a *Assistant) OnTranscript(fn speech.TranscriptFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTranscript = fn
}

// SubscribeState registers a state listener; the returned func unsubscribes.
func (a *Assistant) SubscribeState(fn StateFunc) func() {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.stateSubs[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.stateSubs, id)
		a.mu.Unlock()
	}
}

// State returns the current state.
func (a *Assistant) State() core.WakeWordState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// transition atomically moves from one state to another. It returns false
// without side effects when the machine is not in the expected state.
func (a *Assistant) transition(from, to core.WakeWordState) bool {
	a.mu.Lock()
	if a.state != from {
		a.mu.Unlock()
		return false
	}
	a.state = to
	subs := make([]StateFunc, 0, len(a.stateSubs))
	for _, fn := range a.stateSubs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(to)
	}
	return true
}

// forceIdle drops to idle from whatever state the machine is in.
func (a *Assistant) forceIdle() {
	a.mu.Lock()
	if a.state == core.WakeIdle {
		a.mu.Unlock()
		return
	}
	a.state = core.WakeIdle
	subs := make([]StateFunc, 0, len(a.stateSubs))
	for _, fn := range a.stateSubs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(core.WakeIdle)
	}
}

// StartWakeWordDetection begins listening. A no-op unless currently idle.
func (a *Assistant) StartWakeWordDetection(ctx context.Context) error {
	if !a.transition(core.WakeIdle, core.WakeListening) {
		return nil
	}

	engine := a.selector.Engine()
	if engine == nil || !engine.ContinuousRecognition() {
		// Fallback engine: the caller records manually and feeds
		// SubmitTranscript; we just hold the listening state.
		return nil
	}

	if err := engine.StartRecognition(ctx, a.handleTranscript); err != nil {
		a.log.Warn("recognition start failed: %v", err)
		a.forceIdle()
		return err
	}
	return nil
}

// StopWakeWordDetection stops listening. A no-op unless currently listening.
func (a *Assistant) StopWakeWordDetection() {
	if !a.transition(core.WakeListening, core.WakeIdle) {
		return
	}
	a.stopRecognition()
}

// stopRecognition races the engine stop against a timeout so a hung stop
// never blocks the caller indefinitely.
func (a *Assistant) stopRecognition() {
	engine := a.selector.Engine()
	if engine == nil {
		return
	}
	if a.selector.UsingNativeSpeech() {
		ctx, cancel := context.WithTimeout(context.Background(), stopRecognitionTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- engine.StopRecognition(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				a.log.Debug("recognition stop: %v", err)
			}
		case <-ctx.Done():
			a.log.Warn("recognition stop timed out after %s", stopRecognitionTimeout)
		}
	}
}

// handleTranscript processes recognizer output while listening.
func (a *Assistant) handleTranscript(text string, final bool) {
	a.mu.Lock()
	transcriptFn := a.onTranscript
	wakeFn := a.onWake
	listening := a.state == core.WakeListening
	a.mu.Unlock()

	if transcriptFn != nil {
		transcriptFn(text, final)
	}
	if !final || !listening {
		return
	}

	det := speech.DetectWakeWord(text)
	command := text
	if det.Detected {
		command = speech.ExtractCommand(text)
		a.log.Info("wake word %q detected (confidence %.2f)", det.Phrase, det.Confidence)
		if wakeFn != nil {
			wakeFn(command)
		}
	}

	if command == "" {
		// Wake phrase alone; keep listening for the command.
		return
	}
	a.transition(core.WakeListening, core.WakeProcessing)
}

// SubmitTranscript feeds a manually captured transcript (fallback engine
// path) through the same pipeline the recognizer uses.
func (a *Assistant) SubmitTranscript(text string) {
	a.handleTranscript(text, true)
}

// FinishProcessing returns to idle without speaking, used when a turn
// produced no speakable reply.
func (a *Assistant) FinishProcessing() {
	a.transition(core.WakeProcessing, core.WakeIdle)
}

// SpeakResponse voices a reply. It always completes back at idle and
// never surfaces an error: TTS failures must not break conversation flow.
func (a *Assistant) SpeakResponse(ctx context.Context, text string) {
	if !a.transition(core.WakeProcessing, core.WakeSpeaking) {
		// Text-only turns arrive from idle.
		if !a.transition(core.WakeIdle, core.WakeSpeaking) {
			a.forceIdle()
			if !a.transition(core.WakeIdle, core.WakeSpeaking) {
				return
			}
		}
	}

	engine := a.selector.Engine()
	if engine != nil {
		if err := engine.Speak(ctx, text, speech.SpeakOptions{}); err != nil {
			a.log.Warn("speak failed: %v", err)
		}
	}

	a.forceIdle()
}

// StopSpeaking interrupts playback.
func (a *Assistant) StopSpeaking() {
	engine := a.selector.Engine()
	if engine != nil {
		engine.StopSpeaking()
	}
	a.transition(core.WakeSpeaking, core.WakeIdle)
}

// HandleAppBackground force-stops listening and playback when the host
// application is backgrounded.
func (a *Assistant) HandleAppBackground() {
	a.StopSpeaking()
	a.StopWakeWordDetection()
	a.forceIdle()
}

// HandleAppForeground restarts listening on resume when always-listening
// is enabled.
func (a *Assistant) HandleAppForeground(ctx context.Context) {
	if !a.alwaysListening {
		return
	}
	if err := a.StartWakeWordDetection(ctx); err != nil {
		a.log.Warn("auto-restart listening failed: %v", err)
	}
}
