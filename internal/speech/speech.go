// Package speech orchestrates voice output and single-shot voice input
// for the portal. The actual audio devices sit behind interfaces; this
// package owns locale selection, the one-utterance-at-a-time rule and
// the error taxonomy callers branch on.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/lang"
)

var (
	// ErrPermissionDenied reports a microphone permission or hardware
	// failure. Distinct from ErrNoSpeech so the UI can direct the user
	// to browser settings rather than asking them to repeat.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrNoSpeech reports a capture that heard nothing.
	ErrNoSpeech = errors.New("no speech detected")
)

// Rate is the synthesis speaking rate, slightly slowed for clarity.
const Rate = 0.9

// Synthesizer is the audio output device.
type Synthesizer interface {
	// Speak renders text in the given locale and blocks until finished
	// or ctx is cancelled.
	Speak(ctx context.Context, text, locale string, rate float64) error
}

// Recognizer is the audio input device. One call captures one
// utterance; continuous dictation is not supported.
type Recognizer interface {
	Listen(ctx context.Context, locale string) (string, error)
}

// Speaker serializes utterances: starting a new one cancels whatever is
// still audible, so at most one utterance plays at a time.
type Speaker struct {
	synth  Synthesizer
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	owner  *struct{}
}

// NewSpeaker creates a Speaker.
func NewSpeaker(synth Synthesizer, logger *zap.Logger) *Speaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speaker{synth: synth, logger: logger.Named("speech")}
}

// Say speaks text in the voice mapped for langCode, cancelling any
// in-flight utterance first. Blank text is a no-op.
func (s *Speaker) Say(ctx context.Context, text, langCode string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	token := new(struct{})
	s.cancel, s.owner = cancel, token
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		// A newer utterance may own the slot already.
		if s.owner == token {
			s.cancel, s.owner = nil, nil
		}
		s.mu.Unlock()
	}()

	locale := lang.SpeechLocale(langCode)
	if err := s.synth.Speak(ctx, text, locale, Rate); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("speech synthesis failed",
			zap.String("locale", locale),
			zap.Error(err))
		return err
	}
	return nil
}

// Stop cancels the current utterance, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.owner = nil, nil
	}
}

// Listener captures one utterance per call.
type Listener struct {
	rec    Recognizer
	logger *zap.Logger
}

// NewListener creates a Listener.
func NewListener(rec Recognizer, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{rec: rec, logger: logger.Named("speech")}
}

// Transcribe records a single utterance in the recognition locale for
// langCode. It returns ErrNoSpeech for an empty capture and passes
// through ErrPermissionDenied unchanged.
func (l *Listener) Transcribe(ctx context.Context, langCode string) (string, error) {
	locale := lang.RecognitionLocale(langCode)
	text, err := l.rec.Listen(ctx, locale)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrNoSpeech) {
			l.logger.Warn("speech recognition failed",
				zap.String("locale", locale),
				zap.Error(err))
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
