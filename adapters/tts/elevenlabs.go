package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 1024                     // Size of audio chunks to stream
	defaultOutputFormat = "pcm_24000"              // PCM format for real-time applications
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
	defaultVoicesTTL    = 5 * time.Minute

	// ElevenLabs accepts speed values in this range only
	minSpeed = 0.7
	maxSpeed = 1.2
)

// ElevenLabsConfig holds configuration for the ElevenLabs adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Eleven Labs API (default: "https://api.elevenlabs.io/v1")
// - VoiceID: The voice used when settings leave the choice to the engine (default: Rachel)
// - ModelID: The model ID to use (default: "eleven_multilingual_v2")
// - OutputFormat: The output format (default: "pcm_24000")
// - ChunkSize: The size of audio chunks to stream (default: 1024)
// - Stability: Voice stability value between 0 and 1 (default: 0.5)
// - Clarity: Voice clarity/similarity boost value between 0 and 1 (default: 0.75)
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	ChunkSize    int
	Stability    float64
	Clarity      float64
	VoicesTTL    time.Duration
}

// ElevenLabsTTS is the shared ElevenLabs client. Per-session synthesizers are
// created with Synthesizer so each session streams to its own sink.
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	chunkSize    int
	stability    float64
	clarity      float64
	voicesTTL    time.Duration
	httpClient   *http.Client
	logger       *zap.Logger

	voicesMu      sync.Mutex
	voices        []entities.Voice
	voicesFetched time.Time
}

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

type elevenLabsVoice struct {
	VoiceID           string            `json:"voice_id"`
	Name              string            `json:"name"`
	Labels            map[string]string `json:"labels"`
	VerifiedLanguages []struct {
		Language string `json:"language"`
	} `json:"verified_languages"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}

	// Validate stability is in the valid range
	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}

	// Validate clarity is in the valid range
	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}

	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs client
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	// Apply defaults where needed
	apiBaseURL := strings.TrimRight(config.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", outputFormat))
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
		logger.Info("Using default chunk size", zap.Int("chunkSize", chunkSize))
	}
	// PCM samples are two bytes wide
	if chunkSize%2 != 0 {
		chunkSize++
	}

	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
		logger.Info("Using default stability", zap.Float64("stability", stability))
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
		logger.Info("Using default clarity", zap.Float64("clarity", clarity))
	}

	voicesTTL := config.VoicesTTL
	if voicesTTL == 0 {
		voicesTTL = defaultVoicesTTL
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   apiBaseURL,
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		chunkSize:    chunkSize,
		stability:    stability,
		clarity:      clarity,
		voicesTTL:    voicesTTL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}, nil
}

// Synthesizer binds the client to a sink, producing a SpeechSynthesizer
func (e *ElevenLabsTTS) Synthesizer(sink repositories.AudioSink) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{tts: e, sink: sink}
}

// ElevenLabsSynthesizer implements SpeechSynthesizer by streaming ElevenLabs
// audio into an AudioSink
type ElevenLabsSynthesizer struct {
	tts  *ElevenLabsTTS
	sink repositories.AudioSink
}

// Ensure ElevenLabsSynthesizer implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*ElevenLabsSynthesizer)(nil)

func (s *ElevenLabsSynthesizer) Available() bool {
	return s.tts != nil && s.sink != nil
}

func (s *ElevenLabsSynthesizer) Voices(ctx context.Context) ([]entities.Voice, error) {
	return s.tts.GetAvailableVoices(ctx)
}

// Utter streams the synthesized utterance to the sink and returns once the
// whole response has been delivered
func (s *ElevenLabsSynthesizer) Utter(ctx context.Context, utterance repositories.Utterance) error {
	return s.tts.Stream(ctx, utterance, s.sink)
}

// Stream converts an utterance to speech and writes the audio to sink
func (e *ElevenLabsTTS) Stream(ctx context.Context, utterance repositories.Utterance, sink repositories.AudioSink) error {
	if strings.TrimSpace(utterance.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}

	voiceID := utterance.Voice.ID
	if voiceID == "" {
		voiceID = e.voiceID
	}

	if utterance.Pitch != 0 && utterance.Pitch != 1 {
		e.logger.Debug("Pitch is not supported by Eleven Labs, ignoring", zap.Float64("pitch", utterance.Pitch))
	}

	e.logger.Info("Converting text to speech",
		zap.Int("length", len(utterance.Text)),
		zap.String("voiceID", voiceID),
		zap.String("modelID", e.modelID))

	request := ElevenLabsRequest{
		Text:                   utterance.Text,
		ModelID:                e.modelID,
		LanguageCode:           entities.LanguageFamily(utterance.Language),
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			Style:           0.0,
			UseSpeakerBoost: true,
			Speed:           speechSpeed(utterance.Rate),
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// PCM format requires audio/pcm accept header
	acceptHeader := "audio/mpeg"
	if e.isPCM() {
		acceptHeader = "audio/pcm"
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.SynthesisError{Code: domain.SynthesisCodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		e.logger.Error("Eleven Labs API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		code := domain.SynthesisCodeFailed
		if resp.StatusCode == http.StatusNotFound {
			code = domain.SynthesisCodeVoice
		}
		return &domain.SynthesisError{
			Code: code,
			Err:  fmt.Errorf("API returned error %d: %s", resp.StatusCode, string(errorBody)),
		}
	}

	buffer := make([]byte, e.chunkSize)
	totalBytes := 0
	chunkCount := 0

	for {
		n, readErr := io.ReadFull(resp.Body, buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			if e.isPCM() {
				applyGain(chunk, utterance.Volume)
			}

			if err := sink.WriteAudio(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &domain.SynthesisError{Code: domain.SynthesisCodeAudioOutput, Err: err}
			}
			totalBytes += n
			chunkCount++

			e.logger.Debug("Sent audio chunk",
				zap.Int("chunkNumber", chunkCount),
				zap.Int("chunkSize", n),
				zap.Int("totalBytes", totalBytes))
		}

		if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
			e.logger.Info("Finished streaming audio data",
				zap.Int("totalChunks", chunkCount),
				zap.Int("totalBytes", totalBytes))
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("Error reading response body", zap.Error(readErr))
			return &domain.SynthesisError{Code: domain.SynthesisCodeNetwork, Err: readErr}
		}
	}
}

func (e *ElevenLabsTTS) isPCM() bool {
	return strings.HasPrefix(e.outputFormat, "pcm")
}

// speechSpeed maps a speaking rate onto the range ElevenLabs accepts
func speechSpeed(rate float64) float64 {
	if rate == 0 {
		return 1.0
	}
	if rate < minSpeed {
		return minSpeed
	}
	if rate > maxSpeed {
		return maxSpeed
	}
	return rate
}

// applyGain scales little-endian 16 bit PCM samples in place
func applyGain(pcm []byte, volume float64) {
	if volume >= 1 || volume < 0 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		scaled := int16(float64(sample) * volume)
		binary.LittleEndian.PutUint16(pcm[i:], uint16(scaled))
	}
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	// Parse numeric values from environment
	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}

// GetAvailableVoices retrieves available voices from Eleven Labs API. The list
// is cached for VoicesTTL since every utterance resolves its voice.
func (e *ElevenLabsTTS) GetAvailableVoices(ctx context.Context) ([]entities.Voice, error) {
	e.voicesMu.Lock()
	defer e.voicesMu.Unlock()

	if e.voices != nil && time.Since(e.voicesFetched) < e.voicesTTL {
		return append([]entities.Voice(nil), e.voices...), nil
	}

	url := fmt.Sprintf("%s/voices", e.apiBaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var voicesResponse struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voicesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	voices := make([]entities.Voice, 0, len(voicesResponse.Voices))
	for _, v := range voicesResponse.Voices {
		language := v.Labels["language"]
		if language == "" && len(v.VerifiedLanguages) > 0 {
			language = v.VerifiedLanguages[0].Language
		}
		voices = append(voices, entities.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: language,
			Gender:   v.Labels["gender"],
			Default:  v.VoiceID == e.voiceID,
		})
	}

	e.voices = voices
	e.voicesFetched = time.Now()
	e.logger.Info("Retrieved available voices", zap.Int("count", len(voices)))
	return append([]entities.Voice(nil), voices...), nil
}
