package entities

// SessionState is the orchestrator's current phase
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateListening  SessionState = "listening"
	StateProcessing SessionState = "processing"
	StateSpeaking   SessionState = "speaking"
)

var sessionTransitions = map[SessionState][]SessionState{
	StateIdle:       {StateListening, StateProcessing},
	StateListening:  {StateIdle, StateProcessing},
	StateProcessing: {StateSpeaking},
	StateSpeaking:   {StateIdle},
}

// CanTransitionTo reports whether next may follow s. Any state may return to
// idle through a reset.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if next == StateIdle {
		return s.Valid()
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SessionState) Valid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

// Busy reports whether a turn is in flight
func (s SessionState) Busy() bool {
	return s == StateProcessing || s == StateSpeaking
}
