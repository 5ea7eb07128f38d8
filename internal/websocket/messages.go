package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/usecase"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Session control, sent by the page
const (
	MessageTypeStartListening MessageType = "start_listening"
	MessageTypeStopListening  MessageType = "stop_listening"
	MessageTypeResetSession   MessageType = "reset_session"
	MessageTypeExportSummary  MessageType = "export_summary"
	MessageTypeUpdateSettings MessageType = "update_settings"
	MessageTypeSendText       MessageType = "send_text"
	MessageTypeListVoices     MessageType = "list_voices"
	MessageTypePing           MessageType = "ping"
)

// Browser engine reports, sent by the page
const (
	MessageTypeCapabilities  MessageType = "capabilities"
	MessageTypeVoices        MessageType = "voices"
	MessageTypeCaptureResult MessageType = "capture_result"
	MessageTypeCaptureError  MessageType = "capture_error"
	MessageTypeCaptureEnd    MessageType = "capture_end"
	MessageTypeSpeakEnd      MessageType = "speak_end"
	MessageTypeSpeakError    MessageType = "speak_error"
)

// Sent by the server
const (
	MessageTypeSession      MessageType = "session"
	MessageTypeState        MessageType = "state"
	MessageTypePartial      MessageType = "partial"
	MessageTypeMessage      MessageType = "message"
	MessageTypeSettings     MessageType = "settings"
	MessageTypeReset        MessageType = "reset"
	MessageTypeSummary      MessageType = "summary"
	MessageTypeError        MessageType = "error"
	MessageTypePong         MessageType = "pong"
	MessageTypeCaptureStart MessageType = "capture_start"
	MessageTypeCaptureStop  MessageType = "capture_stop"
	MessageTypeSpeak        MessageType = "speak"
	MessageTypeSpeakCancel  MessageType = "speak_cancel"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// ControlMessage carries a session command without a payload
type ControlMessage struct {
	BaseMessage
}

// UpdateSettingsMessage changes the fields present in Settings and keeps the rest
type UpdateSettingsMessage struct {
	BaseMessage
	Settings entities.VoiceSettingsUpdate `json:"settings"`
}

// SendTextMessage submits typed text, such as a quick-action prompt
type SendTextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// CapabilitiesMessage reports which Web Speech engines the page has
type CapabilitiesMessage struct {
	BaseMessage
	Recognition bool   `json:"recognition"`
	Synthesis   bool   `json:"synthesis"`
	Language    string `json:"language,omitempty"`
}

// VoicesMessage lists voices. The page sends its installed voices whenever
// they change; the server answers with the voices for the session language.
type VoicesMessage struct {
	BaseMessage
	Voices []entities.Voice `json:"voices"`
}

type CaptureResultMessage struct {
	BaseMessage
	RunID      string `json:"run_id"`
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

type CaptureErrorMessage struct {
	BaseMessage
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// CaptureEndMessage reports that recognition ended on its own
type CaptureEndMessage struct {
	BaseMessage
	RunID string `json:"run_id"`
}

type SpeakEndMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
}

type SpeakErrorMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
	Code        string `json:"code"`
}

// SessionMessage is the full session snapshot sent on connect
type SessionMessage struct {
	BaseMessage
	Session usecase.SessionSnapshot `json:"session"`
}

type StateMessage struct {
	BaseMessage
	State entities.SessionState `json:"state"`
}

type PartialMessage struct {
	BaseMessage
	Partial string `json:"partial"`
}

// ChatMessage announces a message appended to the transcript
type ChatMessage struct {
	BaseMessage
	Message entities.Message `json:"message"`
}

type SettingsMessage struct {
	BaseMessage
	Settings entities.VoiceSettings `json:"settings"`
}

type ResetMessage struct {
	BaseMessage
	State    entities.SessionState `json:"state"`
	Messages []entities.Message    `json:"messages"`
}

type SummaryMessage struct {
	BaseMessage
	Summary  string `json:"summary"`
	FileName string `json:"file_name"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type PongMessage struct {
	BaseMessage
}

// CaptureStartMessage asks the page to start its recognizer
type CaptureStartMessage struct {
	BaseMessage
	RunID          string `json:"run_id"`
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

type CaptureStopMessage struct {
	BaseMessage
	RunID string `json:"run_id"`
}

// SpeakMessage asks the page to speak one utterance
type SpeakMessage struct {
	BaseMessage
	UtteranceID string  `json:"utterance_id"`
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Rate        float64 `json:"rate"`
	Pitch       float64 `json:"pitch"`
	Volume      float64 `json:"volume"`
	Voice       string  `json:"voice,omitempty"`
}

type SpeakCancelMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeStartListening, MessageTypeStopListening, MessageTypeResetSession,
		MessageTypeExportSummary, MessageTypeListVoices, MessageTypePing:
		return &ControlMessage{BaseMessage: base}, nil

	case MessageTypeUpdateSettings:
		var msg UpdateSettingsMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid settings message: %w", err)
		}
		if err := msg.Settings.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeSendText:
		var msg SendTextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid text message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypeCapabilities:
		var msg CapabilitiesMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid capabilities message: %w", err)
		}
		return &msg, nil

	case MessageTypeVoices:
		var msg VoicesMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid voices message: %w", err)
		}
		for i, voice := range msg.Voices {
			if voice.ID == "" {
				return nil, fmt.Errorf("voice %d is missing an id", i)
			}
		}
		return &msg, nil

	case MessageTypeCaptureResult:
		var msg CaptureResultMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid capture result: %w", err)
		}
		if msg.RunID == "" {
			return nil, fmt.Errorf("run_id is required")
		}
		return &msg, nil

	case MessageTypeCaptureError:
		var msg CaptureErrorMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid capture error: %w", err)
		}
		if msg.RunID == "" {
			return nil, fmt.Errorf("run_id is required")
		}
		if msg.Reason == "" {
			return nil, fmt.Errorf("reason is required")
		}
		return &msg, nil

	case MessageTypeCaptureEnd:
		var msg CaptureEndMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid capture end: %w", err)
		}
		if msg.RunID == "" {
			return nil, fmt.Errorf("run_id is required")
		}
		return &msg, nil

	case MessageTypeSpeakEnd:
		var msg SpeakEndMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid speak end: %w", err)
		}
		if msg.UtteranceID == "" {
			return nil, fmt.Errorf("utterance_id is required")
		}
		return &msg, nil

	case MessageTypeSpeakError:
		var msg SpeakErrorMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid speak error: %w", err)
		}
		if msg.UtteranceID == "" {
			return nil, fmt.Errorf("utterance_id is required")
		}
		if msg.Code == "" {
			msg.Code = domain.SynthesisCodeFailed
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage() *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong)}
}

func CreateSessionMessage(snapshot usecase.SessionSnapshot) *SessionMessage {
	return &SessionMessage{BaseMessage: newBase(MessageTypeSession), Session: snapshot}
}

func CreateVoicesMessage(voices []entities.Voice) *VoicesMessage {
	if voices == nil {
		voices = []entities.Voice{}
	}
	return &VoicesMessage{BaseMessage: newBase(MessageTypeVoices), Voices: voices}
}

func CreateSummaryMessage(summary string, at time.Time) *SummaryMessage {
	return &SummaryMessage{
		BaseMessage: newBase(MessageTypeSummary),
		Summary:     summary,
		FileName:    usecase.SummaryFileName(at),
	}
}

// eventErrorText is the user facing text for session error codes
var eventErrorText = map[string]string{
	entities.ErrorCodeCaptureUnavailable: "Speech recognition is not available. Check microphone permissions.",
	entities.ErrorCodeCaptureFailed:      "Speech recognition stopped. Please try again.",
	entities.ErrorCodeSynthesisFailed:    "The reply could not be spoken.",
}

// CreateEventMessage converts a session event to its outbound message
func CreateEventMessage(event entities.SessionEvent) (interface{}, bool) {
	switch event.Kind {
	case entities.EventState:
		return &StateMessage{BaseMessage: newBase(MessageTypeState), State: event.State}, true
	case entities.EventPartial:
		return &PartialMessage{BaseMessage: newBase(MessageTypePartial), Partial: event.Partial}, true
	case entities.EventMessage:
		if event.Message == nil {
			return nil, false
		}
		return &ChatMessage{BaseMessage: newBase(MessageTypeMessage), Message: *event.Message}, true
	case entities.EventSettings:
		if event.Settings == nil {
			return nil, false
		}
		return &SettingsMessage{BaseMessage: newBase(MessageTypeSettings), Settings: *event.Settings}, true
	case entities.EventReset:
		return &ResetMessage{BaseMessage: newBase(MessageTypeReset), State: event.State, Messages: event.Messages}, true
	case entities.EventError:
		return CreateErrorMessage(event.ErrorCode, eventErrorText[event.ErrorCode], event.Error), true
	default:
		return nil, false
	}
}
