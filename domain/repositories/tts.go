package repositories

import (
	"context"

	"github.com/nexariza/voicebot/domain/entities"
)

// SpeechOutput renders text as spoken audio, one utterance at a time
type SpeechOutput interface {
	IsSupported() bool
	// Speak cancels any utterance in progress, then speaks text. It returns
	// once the speech has finished.
	Speak(ctx context.Context, text string, settings entities.VoiceSettings) error
	ListVoices(ctx context.Context) []entities.Voice
	// Cancel stops the current utterance, if any
	Cancel()
}

// Utterance is a fully resolved synthesis request
type Utterance struct {
	Text     string
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64
	// Voice is zero when the engine should use its own default
	Voice entities.Voice
}

// SpeechSynthesizer is the host synthesis capability behind SpeechOutput.
// Utter blocks until the utterance has been fully rendered or ctx ends.
type SpeechSynthesizer interface {
	Available() bool
	Utter(ctx context.Context, utterance Utterance) error
	Voices(ctx context.Context) ([]entities.Voice, error)
}

// AudioSink receives synthesized audio produced on the server
type AudioSink interface {
	WriteAudio(ctx context.Context, chunk []byte) error
}
