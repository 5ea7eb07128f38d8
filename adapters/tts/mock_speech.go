package tts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// MockSynthesizer writes silent PCM frames to a sink, paced roughly like real
// speech, so the speaking phase can be exercised without a TTS provider
type MockSynthesizer struct {
	sink         repositories.AudioSink
	logger       *zap.Logger
	charDuration time.Duration
	frameSize    int
}

// Ensure MockSynthesizer implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*MockSynthesizer)(nil)

// NewMockSynthesizer creates a mock synthesizer. charDuration is the time one
// character takes at rate 1.0.
func NewMockSynthesizer(sink repositories.AudioSink, charDuration time.Duration, logger *zap.Logger) *MockSynthesizer {
	return &MockSynthesizer{
		sink:         sink,
		logger:       logger,
		charDuration: charDuration,
		frameSize:    960,
	}
}

func (m *MockSynthesizer) Available() bool {
	return m.sink != nil
}

func (m *MockSynthesizer) Voices(ctx context.Context) ([]entities.Voice, error) {
	return []entities.Voice{
		{ID: "mock-en-female", Name: "Mock English Female", Language: "en-US", Gender: "female"},
		{ID: "mock-en-male", Name: "Mock English Male", Language: "en-US", Gender: "male"},
	}, nil
}

func (m *MockSynthesizer) Utter(ctx context.Context, utterance repositories.Utterance) error {
	rate := utterance.Rate
	if rate <= 0 {
		rate = 1
	}
	total := time.Duration(float64(len(utterance.Text)) * float64(m.charDuration) / rate)
	frames := int(total / (20 * time.Millisecond))
	if frames == 0 {
		frames = 1
	}
	step := total / time.Duration(frames)

	m.logger.Info("Mock speaking utterance",
		zap.String("voice", utterance.Voice.ID),
		zap.Duration("duration", total),
		zap.Int("frames", frames))

	silence := make([]byte, m.frameSize)
	for i := 0; i < frames; i++ {
		if err := m.sink.WriteAudio(ctx, silence); err != nil {
			return err
		}
		if step > 0 {
			select {
			case <-time.After(step):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
