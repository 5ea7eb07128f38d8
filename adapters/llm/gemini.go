package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nexariza/voicebot/domain/repositories"
)

const (
	defaultModel        = "gemini-2.0-flash"
	defaultTemperature  = 0.7
	defaultTopP         = 0.95
	defaultTopK         = 40
	defaultMaxTokens    = 400
	defaultMaxAttempts  = 3
	defaultRetryBackoff = time.Second
)

// ErrEmptyCompletion is returned when the model answers without any text
var ErrEmptyCompletion = errors.New("model returned no text")

// GeminiConfig holds the Gemini generation settings
type GeminiConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	SystemInstruction string
	Temperature       float32
	TopP              float32
	TopK              float32
	MaxOutputTokens   int
	MaxAttempts       int
	RetryBackoff      time.Duration
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client       *genai.Client
	logger       *zap.Logger
	model        string
	config       *genai.GenerateContentConfig
	maxAttempts  int
	retryBackoff time.Duration
}

// Ensure GeminiLLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	// Validate topP is in the valid range
	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", config.MaxOutputTokens)
	}

	if config.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts must be positive, got %d", config.MaxAttempts)
	}

	return nil
}

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Apply defaults where needed
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	topP := config.TopP
	if topP == 0 {
		topP = defaultTopP
	}

	topK := config.TopK
	if topK == 0 {
		topK = defaultTopK
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	retryBackoff := config.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = defaultRetryBackoff
	}

	generateConfig := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
		Temperature:     genai.Ptr(temperature),
		TopP:            genai.Ptr(topP),
		TopK:            genai.Ptr(topK),
		MaxOutputTokens: int32(maxOutputTokens),
	}
	if config.SystemInstruction != "" {
		generateConfig.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}

	logger.Info("Gemini LLM configured",
		zap.String("model", model),
		zap.Float32("temperature", temperature),
		zap.Int("maxOutputTokens", maxOutputTokens),
		zap.Int("maxAttempts", maxAttempts))

	return &GeminiLLM{
		client:       client,
		logger:       logger,
		model:        model,
		config:       generateConfig,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
	}, nil
}

// Generate sends a single prompt and returns the model's text
func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < g.maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * g.retryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := responseText(response)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	g.logger.Debug("Gemini response generated",
		zap.Int("promptLength", len(prompt)),
		zap.Int("responseLength", len(text)))

	return text, nil
}

// responseText concatenates the text parts of the first candidate
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
