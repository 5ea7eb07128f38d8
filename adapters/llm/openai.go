package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain/repositories"
)

// OpenAIConfig configures the OpenAI chat completion backend
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	SystemInstruction string
	Temperature       float32
	MaxTokens         int
}

// OpenAILLM implements LargeLanguageModel on top of the chat completions API
type OpenAILLM struct {
	client *openai.Client
	logger *zap.Logger
	config OpenAIConfig
}

// Ensure OpenAILLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*OpenAILLM)(nil)

func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
		logger.Info("Using default model", zap.String("model", config.Model))
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
		config: config,
	}, nil
}

func (o *OpenAILLM) Generate(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if o.config.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.config.SystemInstruction,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Messages:    messages,
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	o.logger.Debug("OpenAI response generated",
		zap.String("model", resp.Model),
		zap.Int("totalTokens", resp.Usage.TotalTokens))

	return text, nil
}
