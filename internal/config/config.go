package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/adapters/llm"
	"github.com/nexariza/voicebot/adapters/stt"
	"github.com/nexariza/voicebot/adapters/tts"
)

// LLM providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Speech modes
const (
	// SpeechModeBrowser drives the browser's Web Speech engines over the websocket
	SpeechModeBrowser = "browser"
	// SpeechModeServer streams audio to Google Speech and ElevenLabs
	SpeechModeServer = "server"
	SpeechModeMock   = "mock"
)

// Config holds application configuration
type Config struct {
	Port   string
	AppEnv string

	JWTSecret              string
	SessionTokenTTL        time.Duration
	SessionIdleTTL         time.Duration
	SessionCleanupInterval time.Duration

	LLMProvider     string
	Gemini          llm.GeminiConfig
	OpenAI          llm.OpenAIConfig
	GenerateTimeout time.Duration

	SpeechMode       string
	SpeechLanguage   string
	SpeechSampleRate int
	SpeechEncoding   string
	ElevenLabs       tts.ElevenLabsConfig

	Greeting     string
	Persona      string
	HistoryTurns int
}

// LoadDotEnv copies the given env files (.env by default) into the process
// environment. Variables that are already set win.
func LoadDotEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

// NewLogger builds the development logger for APP_ENV=development and the
// production logger otherwise
func NewLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Load reads .env when present, then the environment, applying defaults.
// Values that fail to parse are reported together with Validate's errors.
func Load(logger *zap.Logger) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	env := &envReader{}
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "production"),

		JWTSecret:              os.Getenv("JWT_SECRET"),
		SessionTokenTTL:        env.duration("SESSION_TOKEN_TTL", 24*time.Hour),
		SessionIdleTTL:         env.duration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionCleanupInterval: env.duration("SESSION_CLEANUP_INTERVAL", time.Minute),

		LLMProvider: strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		Gemini: llm.GeminiConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   os.Getenv("GEMINI_MODEL"),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   os.Getenv("OPENAI_MODEL"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		GenerateTimeout: env.duration("GENERATE_TIMEOUT", 30*time.Second),

		SpeechMode:       strings.ToLower(getEnv("SPEECH_MODE", SpeechModeBrowser)),
		SpeechLanguage:   getEnv("SPEECH_LANGUAGE", "en-US"),
		SpeechSampleRate: env.integer("SPEECH_SAMPLE_RATE", 16000),
		SpeechEncoding:   getEnv("SPEECH_ENCODING", "LINEAR16"),
		ElevenLabs:       tts.NewElevenLabsConfigFromEnv(),

		Greeting:     os.Getenv("ASSISTANT_GREETING"),
		Persona:      os.Getenv("ASSISTANT_PERSONA"),
		HistoryTurns: env.integer("PROMPT_HISTORY_TURNS", 10),
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = "development-secret"
		logger.Warn("JWT_SECRET not set, using development secret")
	}

	if cfg.LLMProvider == ProviderGemini && cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, falling back to mock replies")
		cfg.LLMProvider = ProviderMock
	}

	if err := errors.Join(append(env.errs, cfg.Validate())...); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
		zap.String("llmProvider", cfg.LLMProvider),
		zap.String("speechMode", cfg.SpeechMode),
		zap.String("language", cfg.SpeechLanguage))

	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.SessionTokenTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TOKEN_TTL must be positive"))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL must be positive"))
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, errors.New("SESSION_CLEANUP_INTERVAL must be positive"))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, errors.New("PROMPT_HISTORY_TURNS cannot be negative"))
	}

	switch c.LLMProvider {
	case ProviderGemini:
		if err := llm.ValidateGeminiConfig(c.Gemini); err != nil {
			errs = append(errs, err)
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.SpeechMode {
	case SpeechModeServer:
		if err := tts.ValidateElevenLabsConfig(c.ElevenLabs); err != nil {
			errs = append(errs, err)
		}
		if err := stt.ValidateEncoding(c.SpeechEncoding); err != nil {
			errs = append(errs, fmt.Errorf("SPEECH_ENCODING: %w", err))
		}
	case SpeechModeBrowser, SpeechModeMock:
	default:
		errs = append(errs, fmt.Errorf("unknown SPEECH_MODE %q", c.SpeechMode))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envReader parses typed values, keeping every malformed one
type envReader struct {
	errs []error
}

func (r *envReader) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration such as 30s, got %q", key, raw))
		return fallback
	}
	return value
}
