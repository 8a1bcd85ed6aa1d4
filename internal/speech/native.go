package speech

import (
	"context"
	"sync"

	"github.com/oritocare/companion/internal/core"
)

// NativeEngine wraps the on-device continuous recognizer and synthesizer.
type NativeEngine struct {
	recognizer  Recognizer
	synthesizer Synthesizer

	mu        sync.Mutex
	listening bool
}

// NewNativeEngine creates the native engine over injected platform
// capabilities. Either may be nil when the platform lacks it, which makes
// Initialize fail and pushes selection to the fallback engine.
func NewNativeEngine(recognizer Recognizer, synthesizer Synthesizer) *NativeEngine {
	return &NativeEngine{recognizer: recognizer, synthesizer: synthesizer}
}

func (e *NativeEngine) Name() string { return "native" }

// Initialize verifies both capabilities are present.
func (e *NativeEngine) Initialize(ctx context.Context) error {
	if e.recognizer == nil || e.synthesizer == nil {
		return core.ErrSpeechUnavailable
	}
	return nil
}

func (e *NativeEngine) Speak(ctx context.Context, text string, opts SpeakOptions) error {
	pitch, rate := normalizeSpeakOptions(opts)
	return e.synthesizer.Speak(ctx, text, pitch, rate)
}

func (e *NativeEngine) StopSpeaking() {
	e.synthesizer.Stop()
}

func (e *NativeEngine) ContinuousRecognition() bool { return true }

func (e *NativeEngine) StartRecognition(ctx context.Context, onTranscript TranscriptFunc) error {
	e.mu.Lock()
	if e.listening {
		e.mu.Unlock()
		return nil
	}
	e.listening = true
	e.mu.Unlock()

	if err := e.recognizer.Start(ctx, onTranscript); err != nil {
		e.mu.Lock()
		e.listening = false
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *NativeEngine) StopRecognition(ctx context.Context) error {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return core.ErrNotListening
	}
	e.listening = false
	e.mu.Unlock()

	return e.recognizer.Stop(ctx)
}

// Transcribe is unsupported; the native engine recognizes continuously.
func (e *NativeEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return "", core.ErrSpeechUnavailable
}

func normalizeSpeakOptions(opts SpeakOptions) (pitch, rate float64) {
	pitch, rate = opts.Pitch, opts.Rate
	if pitch == 0 {
		pitch = 1.0
	}
	if rate == 0 {
		rate = 1.0
	}
	return pitch, rate
}
