package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain/repositories"
)

// MockRecognizer replays scripted utterances, word by word, as interim
// results followed by a final one. Useful for local development without a
// microphone.
type MockRecognizer struct {
	logger     *zap.Logger
	wordDelay  time.Duration
	utterances []string

	mu   sync.Mutex
	next int
}

// Ensure MockRecognizer implements the SpeechRecognizer interface
var _ repositories.SpeechRecognizer = (*MockRecognizer)(nil)

// NewMockRecognizer creates a mock recognizer cycling through utterances
func NewMockRecognizer(logger *zap.Logger, wordDelay time.Duration, utterances ...string) *MockRecognizer {
	return &MockRecognizer{
		logger:     logger,
		wordDelay:  wordDelay,
		utterances: utterances,
	}
}

func (m *MockRecognizer) Available() bool {
	return len(m.utterances) > 0
}

// Recognize emits the next scripted utterance then waits for cancellation,
// like a continuous engine hearing silence.
func (m *MockRecognizer) Recognize(ctx context.Context, config repositories.RecognitionConfig, results chan<- repositories.RecognitionResult) error {
	m.mu.Lock()
	utterance := m.utterances[m.next%len(m.utterances)]
	m.next++
	m.mu.Unlock()

	m.logger.Info("Replaying mock utterance",
		zap.String("language", config.Language),
		zap.String("utterance", utterance))

	words := strings.Fields(utterance)
	for i := range words {
		if config.InterimResults && i < len(words)-1 {
			if !m.emit(ctx, results, strings.Join(words[:i+1], " "), false) {
				return nil
			}
		}
	}
	if !m.emit(ctx, results, utterance, true) {
		return nil
	}

	<-ctx.Done()
	return nil
}

func (m *MockRecognizer) emit(ctx context.Context, results chan<- repositories.RecognitionResult, transcript string, final bool) bool {
	if m.wordDelay > 0 {
		select {
		case <-time.After(m.wordDelay):
		case <-ctx.Done():
			return false
		}
	}
	select {
	case results <- repositories.RecognitionResult{Transcript: transcript, IsFinal: final}:
		return true
	case <-ctx.Done():
		return false
	}
}
