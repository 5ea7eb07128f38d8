package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

var configKeys = []string{
	"PORT", "APP_ENV", "JWT_SECRET", "SESSION_TOKEN_TTL", "SESSION_IDLE_TTL",
	"SESSION_CLEANUP_INTERVAL", "LLM_PROVIDER", "GEMINI_API_KEY", "GEMINI_MODEL",
	"GEMINI_BASE_URL", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"GENERATE_TIMEOUT", "SPEECH_MODE", "SPEECH_LANGUAGE", "SPEECH_SAMPLE_RATE",
	"SPEECH_ENCODING", "ASSISTANT_GREETING", "ASSISTANT_PERSONA", "PROMPT_HISTORY_TURNS",
	"ELEVEN_LABS_API_KEY", "ELEVEN_LABS_VOICE_ID",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")

	cfg, err := Load(zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.JWTSecret == "" {
		t.Error("Expected a development JWT secret")
	}
	if cfg.LLMProvider != ProviderMock {
		t.Errorf("Expected mock provider without a Gemini key, got %s", cfg.LLMProvider)
	}
	if cfg.SpeechMode != SpeechModeBrowser || cfg.SpeechLanguage != "en-US" {
		t.Errorf("Unexpected speech defaults %s %s", cfg.SpeechMode, cfg.SpeechLanguage)
	}
	if cfg.SessionIdleTTL != 30*time.Minute || cfg.GenerateTimeout != 30*time.Second {
		t.Errorf("Unexpected duration defaults %v %v", cfg.SessionIdleTTL, cfg.GenerateTimeout)
	}
	if cfg.HistoryTurns != 10 || cfg.SpeechSampleRate != 16000 {
		t.Errorf("Unexpected numeric defaults %d %d", cfg.HistoryTurns, cfg.SpeechSampleRate)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("GENERATE_TIMEOUT", "45s")
	t.Setenv("SPEECH_MODE", "mock")
	t.Setenv("PROMPT_HISTORY_TURNS", "4")

	cfg, err := Load(zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" || cfg.LLMProvider != ProviderOpenAI || cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("Unexpected overrides %+v", cfg)
	}
	if cfg.SessionIdleTTL != 5*time.Minute {
		t.Errorf("Expected idle TTL 5m, got %v", cfg.SessionIdleTTL)
	}
	if cfg.GenerateTimeout != 45*time.Second {
		t.Errorf("Expected generate timeout 45s, got %v", cfg.GenerateTimeout)
	}
	if cfg.SpeechMode != SpeechModeMock || cfg.HistoryTurns != 4 {
		t.Errorf("Unexpected speech mode or history %s %d", cfg.SpeechMode, cfg.HistoryTurns)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing secret in production",
			env:     map[string]string{"LLM_PROVIDER": "mock"},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "openai"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "llama"},
			wantErr: "LLM_PROVIDER",
		},
		{
			name:    "server speech without eleven labs key",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "SPEECH_MODE": "server"},
			wantErr: "eleven labs API key",
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "GENERATE_TIMEOUT": "soon"},
			wantErr: "GENERATE_TIMEOUT",
		},
		{
			name:    "malformed idle ttl",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "SESSION_IDLE_TTL": "30"},
			wantErr: "SESSION_IDLE_TTL",
		},
		{
			name:    "malformed history turns",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "PROMPT_HISTORY_TURNS": "many"},
			wantErr: "PROMPT_HISTORY_TURNS",
		},
		{
			name: "server speech with unsupported encoding",
			env: map[string]string{
				"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "SPEECH_MODE": "server",
				"ELEVEN_LABS_API_KEY": "key", "ELEVEN_LABS_VOICE_ID": "voice", "SPEECH_ENCODING": "MP3",
			},
			wantErr: "SPEECH_ENCODING",
		},
		{
			name:    "unknown speech mode",
			env:     map[string]string{"JWT_SECRET": "x", "LLM_PROVIDER": "mock", "SPEECH_MODE": "telepathy"},
			wantErr: "SPEECH_MODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(zaptest.NewLogger(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_ZeroHistoryTurns(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("PROMPT_HISTORY_TURNS", "0")

	cfg, err := Load(zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HistoryTurns != 0 {
		t.Errorf("Expected history to be disabled, got %d", cfg.HistoryTurns)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("APP_ENV=development\n"), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	// t.Setenv restores the variable afterwards; unset it so the file applies
	t.Setenv("APP_ENV", "")
	os.Unsetenv("APP_ENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("APP_ENV"); got != "development" {
		t.Fatalf("Expected APP_ENV from the file, got %q", got)
	}

	logger, err := NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected a development logger with debug enabled")
	}

	logger, err = NewLogger("production")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected a production logger without debug")
	}
}
