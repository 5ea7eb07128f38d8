package repositories

import "context"

// TranscriptUpdateFunc receives every recognized fragment. isFinal marks the
// end of an utterance.
type TranscriptUpdateFunc func(transcript string, isFinal bool)

// CaptureErrorFunc receives the reason capture stopped on its own
type CaptureErrorFunc func(reason string)

// SpeechCapture turns live microphone audio into text
type SpeechCapture interface {
	IsSupported() bool
	// StartListening begins capture. It never reports errors synchronously;
	// calling it while already listening does nothing.
	StartListening(onUpdate TranscriptUpdateFunc, onError CaptureErrorFunc)
	// StopListening halts capture and is safe to call when not listening
	StopListening()
}

// RecognitionConfig represents recognition settings for a capture run
type RecognitionConfig struct {
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
}

// RecognitionResult is a single transcript fragment from an engine
type RecognitionResult struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// SpeechRecognizer is the host recognition capability behind SpeechCapture.
// Recognize blocks until ctx is cancelled or the engine stops, writing results
// to the channel. It returns nil when cancelled or when the engine ends on its
// own, and an error when the engine fails.
type SpeechRecognizer interface {
	Available() bool
	Recognize(ctx context.Context, config RecognitionConfig, results chan<- RecognitionResult) error
}
