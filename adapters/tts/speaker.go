package tts

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// Speaker implements SpeechOutput. It owns the audio output: starting a new
// utterance cancels the current one and waits for it to wind down.
type Speaker struct {
	engine   repositories.SpeechSynthesizer
	language string
	logger   *zap.Logger

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Ensure Speaker implements the SpeechOutput interface
var _ repositories.SpeechOutput = (*Speaker)(nil)

// NewSpeaker creates a speech output adapter for the given language
func NewSpeaker(engine repositories.SpeechSynthesizer, language string, logger *zap.Logger) *Speaker {
	return &Speaker{
		engine:   engine,
		language: language,
		logger:   logger,
	}
}

func (s *Speaker) IsSupported() bool {
	return s.engine != nil && s.engine.Available()
}

// Speak renders text with a snapshot of settings taken at call time
func (s *Speaker) Speak(ctx context.Context, text string, settings entities.VoiceSettings) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !s.IsSupported() {
		return domain.ErrSynthesisUnavailable
	}

	snapshot := settings.Normalized()
	voice := s.resolveVoice(ctx, snapshot)

	playCtx, cancel := context.WithCancel(ctx)
	current := &playback{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	previous := s.current
	if previous != nil {
		previous.cancel()
	}
	s.current = current
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.current == current {
			s.current = nil
		}
		s.mu.Unlock()
		close(current.done)
	}()

	if previous != nil {
		select {
		case <-previous.done:
		case <-playCtx.Done():
			return s.interrupted(ctx)
		}
	}

	s.logger.Info("Speaking utterance",
		zap.Int("length", len(text)),
		zap.String("voice", voice.ID),
		zap.Float64("rate", snapshot.Rate),
		zap.Float64("pitch", snapshot.Pitch),
		zap.Float64("volume", snapshot.Volume))

	err := s.engine.Utter(playCtx, repositories.Utterance{
		Text:     text,
		Language: s.language,
		Rate:     snapshot.Rate,
		Pitch:    snapshot.Pitch,
		Volume:   snapshot.Volume,
		Voice:    voice,
	})

	if err != nil && playCtx.Err() != nil {
		return s.interrupted(ctx)
	}
	if err != nil {
		var synthErr *domain.SynthesisError
		if errors.As(err, &synthErr) {
			return synthErr
		}
		return &domain.SynthesisError{Code: domain.SynthesisCodeFailed, Err: err}
	}
	return nil
}

func (s *Speaker) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return domain.ErrSpeechInterrupted
}

// Cancel stops the utterance in progress
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel()
		s.logger.Info("Cancelled utterance in progress")
	}
}

// ListVoices returns the engine's current voices. Engines often populate
// their voice list lazily, so an empty result is normal right after startup.
func (s *Speaker) ListVoices(ctx context.Context) []entities.Voice {
	if s.engine == nil {
		return nil
	}
	voices, err := s.engine.Voices(ctx)
	if err != nil {
		s.logger.Warn("Failed to list voices", zap.Error(err))
		return []entities.Voice{}
	}
	return voices
}

// resolveVoice maps the settings voice to a concrete engine voice, falling
// back to the default voice policy when the voice is unset or unknown
func (s *Speaker) resolveVoice(ctx context.Context, settings entities.VoiceSettings) entities.Voice {
	voices := s.ListVoices(ctx)

	if !settings.UsesEngineDefault() {
		if voice, ok := entities.FindVoice(voices, settings.VoiceID); ok {
			return voice
		}
		s.logger.Warn("Selected voice not available, using default voice",
			zap.String("voice", settings.VoiceID))
	}

	voice, _ := entities.PickDefaultVoice(voices, s.language)
	return voice
}
