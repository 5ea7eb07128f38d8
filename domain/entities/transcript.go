package entities

import "fmt"

// Transcript is the append-only log of a session's messages.
// Messages are never edited or removed; a reset replaces the whole transcript.
type Transcript struct {
	messages []Message
}

// NewTranscript creates a transcript, optionally seeded with messages
func NewTranscript(seed ...Message) (*Transcript, error) {
	t := &Transcript{messages: make([]Message, 0, len(seed)+8)}
	for _, m := range seed {
		if err := t.Append(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append validates and adds a message to the end of the log
func (t *Transcript) Append(m Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if n := len(t.messages); n > 0 && m.CreatedAt.Before(t.messages[n-1].CreatedAt) {
		return fmt.Errorf("message %s is older than the last transcript entry", m.ID)
	}
	t.messages = append(t.messages, m)
	return nil
}

// Messages returns a copy of the log in chronological order
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the most recent message
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}
