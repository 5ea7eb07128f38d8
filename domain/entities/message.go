package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageOrigin tells who produced a message
type MessageOrigin string

const (
	OriginUser      MessageOrigin = "user"
	OriginAssistant MessageOrigin = "assistant"
)

// Label returns the human readable prefix used in prompts and summaries
func (o MessageOrigin) Label() string {
	switch o {
	case OriginUser:
		return "User"
	case OriginAssistant:
		return "Assistant"
	default:
		return string(o)
	}
}

// Message is one turn of a consultation
type Message struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Origin    MessageOrigin `json:"origin"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewMessage creates a message with a time ordered identifier
func NewMessage(origin MessageOrigin, text string, createdAt time.Time) Message {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Message{
		ID:        id.String(),
		Text:      text,
		Origin:    origin,
		CreatedAt: createdAt,
	}
}

func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Text == "" {
		return errors.New("message text is required")
	}
	if m.Origin != OriginUser && m.Origin != OriginAssistant {
		return errors.New("message origin must be user or assistant")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("message timestamp is required")
	}
	return nil
}
