package speech

import (
	"context"

	"github.com/oritocare/companion/internal/core"
)

// FallbackEngine is synthesis-only. It cannot listen continuously, so the
// caller must capture audio manually and hand it to Transcribe.
type FallbackEngine struct {
	synthesizer Synthesizer
	transcriber Transcriber
}

// NewFallbackEngine creates the fallback engine. The transcriber is
// optional; without it voice input is unavailable entirely.
func NewFallbackEngine(synthesizer Synthesizer, transcriber Transcriber) *FallbackEngine {
	return &FallbackEngine{synthesizer: synthesizer, transcriber: transcriber}
}

func (e *FallbackEngine) Name() string { return "fallback-tts" }

func (e *FallbackEngine) Initialize(ctx context.Context) error {
	if e.synthesizer == nil {
		return core.ErrSpeechUnavailable
	}
	return nil
}

func (e *FallbackEngine) Speak(ctx context.Context, text string, opts SpeakOptions) error {
	pitch, rate := normalizeSpeakOptions(opts)
	return e.synthesizer.Speak(ctx, text, pitch, rate)
}

func (e *FallbackEngine) StopSpeaking() {
	e.synthesizer.Stop()
}

func (e *FallbackEngine) ContinuousRecognition() bool { return false }

func (e *FallbackEngine) StartRecognition(ctx context.Context, onTranscript TranscriptFunc) error {
	return core.ErrSpeechUnavailable
}

func (e *FallbackEngine) StopRecognition(ctx context.Context) error {
	return core.ErrNotListening
}

func (e *FallbackEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if e.transcriber == nil {
		return "", core.ErrSpeechUnavailable
	}
	return e.transcriber.Transcribe(ctx, audio)
}
