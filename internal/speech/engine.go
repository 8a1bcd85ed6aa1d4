// Package speech abstracts the two interchangeable speech engines.
//
// The native engine wraps the platform's continuous recognizer and
// synthesizer. The fallback engine can only synthesize; callers must
// capture audio themselves and hand it to Transcribe. Which engine is
// active is decided once at startup and never changes.
package speech

import (
	"context"
	"sync"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
)

// SpeakOptions tune synthesis output.
type SpeakOptions struct {
	Pitch float64
	Rate  float64
}

// TranscriptFunc receives recognized text. Final is true once the
// recognizer commits the utterance.
type TranscriptFunc func(text string, final bool)

// Engine is the uniform interface over both speech backends.
type Engine interface {
	Name() string

	// Initialize probes the underlying capability. An engine that fails
	// to initialize is never used.
	Initialize(ctx context.Context) error

	Speak(ctx context.Context, text string, opts SpeakOptions) error
	StopSpeaking()

	// ContinuousRecognition reports whether StartRecognition works.
	ContinuousRecognition() bool
	StartRecognition(ctx context.Context, onTranscript TranscriptFunc) error
	StopRecognition(ctx context.Context) error

	// Transcribe converts one captured audio clip to text. Used by the
	// fallback path where continuous recognition is unavailable.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer is the injected platform text-to-speech capability.
type Synthesizer interface {
	Speak(ctx context.Context, text string, pitch, rate float64) error
	Stop()
}

// Recognizer is the injected platform continuous-recognition capability.
type Recognizer interface {
	Start(ctx context.Context, onTranscript TranscriptFunc) error
	Stop(ctx context.Context) error
}

// Transcriber is the injected one-shot transcription capability.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Selector resolves the active engine once at startup.
type Selector struct {
	mu       sync.Mutex
	engine   Engine
	native   bool
	resolved bool
	log      *logging.Logger
}

// NewSelector creates a selector over the preferred and fallback engines.
func NewSelector() *Selector {
	return &Selector{log: logging.Component("speech")}
}

// Resolve tries the native engine first and falls back to the
// synthesis-only engine. The choice is cached for the process lifetime.
func (s *Selector) Resolve(ctx context.Context, native, fallback Engine) (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.engine, nil
	}

	if native != nil {
		if err := native.Initialize(ctx); err == nil {
			s.engine = native
			s.native = true
			s.resolved = true
			s.log.Info("using native speech engine: %s", native.Name())
			return s.engine, nil
		} else {
			s.log.Warn("native speech engine unavailable: %v", err)
		}
	}

	if fallback != nil {
		if err := fallback.Initialize(ctx); err == nil {
			s.engine = fallback
			s.native = false
			s.resolved = true
			s.log.Info("using fallback speech engine: %s", fallback.Name())
			return s.engine, nil
		} else {
			s.log.Error("fallback speech engine unavailable: %v", err)
		}
	}

	return nil, core.ErrSpeechUnavailable
}

// Engine returns the resolved engine, or nil before Resolve.
func (s *Selector) Engine() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// UsingNativeSpeech reports whether the native engine won the selection.
// Callers branch on this to decide between StopRecognition and manual
// recording stop.
func (s *Selector) UsingNativeSpeech() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.native
}
