package entities

import "time"

// EventKind identifies what changed in a session
type EventKind string

const (
	EventState    EventKind = "state"
	EventPartial  EventKind = "partial"
	EventMessage  EventKind = "message"
	EventSettings EventKind = "settings"
	EventReset    EventKind = "reset"
	EventError    EventKind = "error"
)

// Error codes carried by EventError
const (
	ErrorCodeCaptureUnavailable = "capture_unavailable"
	ErrorCodeCaptureFailed      = "capture_error"
	ErrorCodeSynthesisFailed    = "synthesis_error"
)

// SessionEvent is published to observers whenever session state changes
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	State     SessionState   `json:"state,omitempty"`
	Partial   string         `json:"partial,omitempty"`
	Message   *Message       `json:"message,omitempty"`
	Messages  []Message      `json:"messages,omitempty"`
	Settings  *VoiceSettings `json:"settings,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}
