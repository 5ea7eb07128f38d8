package api

import (
	"time"

	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/usecase"
)

// SessionResponse is returned when a consultation is opened
type SessionResponse struct {
	Token     string                  `json:"token"`
	ExpiresAt time.Time               `json:"expires_at"`
	Session   usecase.SessionSnapshot `json:"session"`
}

// SubmitTextRequest carries typed input, such as a quick-action prompt
type SubmitTextRequest struct {
	Text string `json:"text"`
}

type TranscriptResponse struct {
	Messages []entities.Message `json:"messages"`
}

type VoicesResponse struct {
	Voices []entities.Voice `json:"voices"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
