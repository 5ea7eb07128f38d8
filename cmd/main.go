package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/adapters/llm"
	"github.com/nexariza/voicebot/adapters/stt"
	"github.com/nexariza/voicebot/adapters/tts"
	"github.com/nexariza/voicebot/domain/repositories"
	"github.com/nexariza/voicebot/internal/api"
	"github.com/nexariza/voicebot/internal/auth"
	"github.com/nexariza/voicebot/internal/config"
	"github.com/nexariza/voicebot/internal/websocket"
	"github.com/nexariza/voicebot/usecase"
)

// Scripted utterances for SPEECH_MODE=mock
var mockUtterances = []string{
	"What services do you offer?",
	"How much would a chatbot cost?",
	"Thanks, that helps.",
}

func main() {
	// .env may set APP_ENV, so it is read before the logger is built
	dotEnvErr := config.LoadDotEnv()

	// Initialize logger
	logger, err := config.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if dotEnvErr != nil {
		logger.Debug("No .env file loaded", zap.Error(dotEnvErr))
	}

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	model, err := newLanguageModel(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize language model", zap.Error(err))
	}

	engines, closeEngines, err := newEngineFactory(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech engines", zap.Error(err))
	}
	defer closeEngines()

	// Initialize usecase services
	responder := usecase.NewResponseGenerator(model, cfg.GenerateTimeout, logger)
	store := usecase.NewSessionStore()

	hub := websocket.NewHub(store, responder, engines, websocket.HubConfig{
		Language:   cfg.SpeechLanguage,
		SampleRate: cfg.SpeechSampleRate,
		Encoding:   cfg.SpeechEncoding,
		Session: usecase.VoiceSessionConfig{
			Greeting:     cfg.Greeting,
			Persona:      cfg.Persona,
			HistoryTurns: cfg.HistoryTurns,
		},
	}, logger)
	go hub.Run(ctx)

	cleanup := websocket.NewSessionCleanupService(hub, cfg.SessionIdleTTL, cfg.SessionCleanupInterval, logger)
	cleanup.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTokenTTL)
	api.InitRoutes(e, hub, issuer, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice consultation server started",
		zap.String("port", cfg.Port),
		zap.String("speechMode", cfg.SpeechMode),
		zap.String("llmProvider", cfg.LLMProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cleanup.Stop()
	for _, session := range store.List() {
		hub.CloseSession(session.ID())
	}

	logger.Info("Server exited")
}

func newLanguageModel(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, cfg.Gemini, logger)
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(cfg.OpenAI, logger)
	case config.ProviderMock:
		logger.Warn("Using mock language model")
		return llm.NewMockLLM(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// newEngineFactory picks where speech is recognized and synthesized. The
// returned function releases shared clients.
func newEngineFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (websocket.EngineFactory, func(), error) {
	switch cfg.SpeechMode {
	case config.SpeechModeBrowser:
		return websocket.BrowserEngines, func() {}, nil

	case config.SpeechModeServer:
		client, err := stt.NewGoogleSpeechClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		elevenLabs, err := tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		factory := func(bridge *websocket.Bridge) (repositories.SpeechRecognizer, repositories.SpeechSynthesizer) {
			return stt.NewGoogleRecognizer(client, bridge.Feed(), logger), elevenLabs.Synthesizer(bridge)
		}
		return factory, closeSpeechClient(client, logger), nil

	case config.SpeechModeMock:
		logger.Warn("Using mock speech engines")
		factory := func(bridge *websocket.Bridge) (repositories.SpeechRecognizer, repositories.SpeechSynthesizer) {
			return stt.NewMockRecognizer(logger, 200*time.Millisecond, mockUtterances...),
				tts.NewMockSynthesizer(bridge, 40*time.Millisecond, logger)
		}
		return factory, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown speech mode %q", cfg.SpeechMode)
	}
}

func closeSpeechClient(client *speech.Client, logger *zap.Logger) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close speech client", zap.Error(err))
		}
	}
}
