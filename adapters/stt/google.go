package stt

import (
	"context"
	"errors"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/repositories"
)

const (
	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
)

// GoogleRecognizer implements SpeechRecognizer with Google Cloud streaming
// recognition. Audio comes from an AudioFeed filled by the transport.
type GoogleRecognizer struct {
	client *speech.Client
	feed   *AudioFeed
	logger *zap.Logger
}

// Ensure GoogleRecognizer implements the SpeechRecognizer interface
var _ repositories.SpeechRecognizer = (*GoogleRecognizer)(nil)

// NewGoogleRecognizer creates a recognizer sharing an existing speech client
func NewGoogleRecognizer(client *speech.Client, feed *AudioFeed, logger *zap.Logger) *GoogleRecognizer {
	return &GoogleRecognizer{
		client: client,
		feed:   feed,
		logger: logger,
	}
}

// NewGoogleSpeechClient dials the Google Cloud Speech API using application default credentials
func NewGoogleSpeechClient(ctx context.Context) (*speech.Client, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return client, nil
}

func (g *GoogleRecognizer) Available() bool {
	return g.client != nil && g.feed != nil
}

// Recognize streams feed audio to Google until ctx is cancelled or the stream ends
func (g *GoogleRecognizer) Recognize(ctx context.Context, config repositories.RecognitionConfig, results chan<- repositories.RecognitionResult) error {
	if config.Encoding == "" {
		config.Encoding = defaultEncoding
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}

	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		g.logger.Error("Speech recognition misconfigured", zap.String("encoding", config.Encoding), zap.Error(err))
		return &domain.CaptureError{Reason: domain.CaptureReasonServiceNotAllowed}
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  config.InterimResults,
				SingleUtterance: !config.Continuous,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.feed.Reset()
	g.logger.Info("Google streaming recognition started",
		zap.String("language", config.Language),
		zap.String("encoding", config.Encoding),
		zap.Int("sampleRate", config.SampleRate))

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- g.receiveResults(ctx, stream, results)
	}()

	chunkCount := 0
	for {
		select {
		case <-ctx.Done():
			stream.CloseSend()
			<-recvErr
			g.logger.Info("Google streaming recognition cancelled", zap.Int("chunks", chunkCount))
			return nil

		case err := <-recvErr:
			stream.CloseSend()
			return err

		case frame := <-g.feed.Frames():
			chunkCount++
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: frame,
				},
			}); err != nil {
				g.logger.Error("Failed to send audio data", zap.Error(err))
				stream.CloseSend()
				if rerr := <-recvErr; rerr != nil {
					return rerr
				}
				return fmt.Errorf("failed to send audio data: %w", err)
			}
		}
	}
}

// receiveResults forwards recognition results until the stream closes
func (g *GoogleRecognizer) receiveResults(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, results chan<- repositories.RecognitionResult) error {
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive response: %w", err)
		}

		if resp.Error != nil {
			return fmt.Errorf("recognition error %d: %s", resp.Error.Code, resp.Error.Message)
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			// Take the best alternative
			fragment := repositories.RecognitionResult{
				Transcript: result.Alternatives[0].Transcript,
				IsFinal:    result.IsFinal,
			}
			select {
			case results <- fragment:
			case <-ctx.Done():
				return nil
			}
		}

		if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			g.logger.Debug("Google reported end of single utterance")
		}
	}
}

var errUnsupportedEncoding = errors.New("unsupported encoding")

// getAudioEncoding converts string encoding to Google Speech API enum
// ValidateEncoding reports whether Google streaming recognition accepts the
// named audio encoding
func ValidateEncoding(encoding string) error {
	_, err := getAudioEncoding(encoding)
	return err
}

func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}
}
