package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// DefaultGreeting opens every consultation
const DefaultGreeting = "Hello! I'm Nexariza's AI Voice Assistant. I can help you with AI project planning, pricing, and recommendations. How can I assist you today?"

// DefaultHistoryTurns is how many earlier messages a reply prompt carries
const DefaultHistoryTurns = 10

// EventListener observes session changes. It is called with the session lock
// held, so it must not call back into the session.
type EventListener func(event entities.SessionEvent)

// VoiceSessionConfig tunes a session
type VoiceSessionConfig struct {
	Greeting     string
	Persona      string
	// HistoryTurns caps the earlier messages sent with each reply prompt.
	// Zero sends none and a negative value uses DefaultHistoryTurns.
	HistoryTurns int
	Language     string
	// Clock stamps messages and activity. Defaults to time.Now.
	Clock func() time.Time
}

// SessionSnapshot is a consistent view of a session at one instant
type SessionSnapshot struct {
	ID       string                 `json:"id"`
	State    entities.SessionState  `json:"state"`
	Partial  string                 `json:"partial,omitempty"`
	Messages []entities.Message     `json:"messages"`
	Settings entities.VoiceSettings `json:"settings"`
}

// VoiceSession orchestrates the conversation flow: capture, generate, speak.
// At most one of the three is in flight at any time, and the transcript only
// grows until it is reset.
type VoiceSession struct {
	id        string
	capture   repositories.SpeechCapture
	output    repositories.SpeechOutput
	responder Responder
	config    VoiceSessionConfig
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      entities.SessionState
	transcript *entities.Transcript
	partial    string
	settings   entities.VoiceSettings
	listener   EventListener
	lastActive time.Time
	closed     bool
	// epoch changes on reset and close; turns started in an older epoch are discarded
	epoch uint64
	// listenSeq identifies the current capture run
	listenSeq  uint64
	turnCancel context.CancelFunc
}

// NewVoiceSession creates an idle session seeded with the greeting
func NewVoiceSession(
	id string,
	capture repositories.SpeechCapture,
	output repositories.SpeechOutput,
	responder Responder,
	config VoiceSessionConfig,
	logger *zap.Logger,
) *VoiceSession {
	if strings.TrimSpace(config.Greeting) == "" {
		config.Greeting = DefaultGreeting
	}
	if config.Persona == "" {
		config.Persona = DefaultPersona
	}
	if config.HistoryTurns < 0 {
		config.HistoryTurns = DefaultHistoryTurns
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &VoiceSession{
		id:        id,
		capture:   capture,
		output:    output,
		responder: responder,
		config:    config,
		logger:    logger.With(zap.String("sessionID", id)),
		ctx:       ctx,
		cancel:    cancel,
		state:     entities.StateIdle,
		settings:  entities.DefaultVoiceSettings(),
	}
	s.transcript = s.seedTranscript()
	s.lastActive = config.Clock()
	return s
}

func (s *VoiceSession) ID() string {
	return s.id
}

// SetListener replaces the event listener. Pass nil to stop observing.
func (s *VoiceSession) SetListener(listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// StartListening moves an idle session to listening. It is a no-op while
// already listening and fails with ErrSessionBusy during a turn.
func (s *VoiceSession) StartListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	s.touch()

	switch s.state {
	case entities.StateListening:
		return nil
	case entities.StateIdle:
	default:
		return fmt.Errorf("%w: cannot listen while %s", domain.ErrSessionBusy, s.state)
	}

	if s.capture == nil || !s.capture.IsSupported() {
		s.logger.Warn("Speech capture is not supported")
		s.emitError(entities.ErrorCodeCaptureUnavailable, "Speech recognition is not available")
		return domain.ErrCaptureUnavailable
	}

	s.listenSeq++
	seq := s.listenSeq
	s.partial = ""
	s.setState(entities.StateListening)

	s.capture.StartListening(
		func(transcript string, isFinal bool) { s.onTranscript(seq, transcript, isFinal) },
		func(reason string) { s.onCaptureError(seq, reason) },
	)
	return nil
}

// StopListening returns a listening session to idle. It is safe to call in
// any state and does nothing outside of listening.
func (s *VoiceSession) StopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.StateListening {
		return
	}
	s.touch()
	s.stopCapture()
	s.setState(entities.StateIdle)
}

// SubmitText starts a turn from typed text, as if it had been spoken
func (s *VoiceSession) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyUtterance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	s.touch()

	switch s.state {
	case entities.StateListening:
		s.stopCapture()
	case entities.StateIdle:
	default:
		return fmt.Errorf("%w: a reply is already in progress", domain.ErrSessionBusy)
	}

	s.beginTurn(text)
	return nil
}

// ResetSession abandons whatever is in flight, clears the transcript and
// seeds a fresh greeting. It is allowed in every state.
func (s *VoiceSession) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.touch()
	s.abandonTurn()

	s.transcript = s.seedTranscript()
	s.partial = ""
	s.setState(entities.StateIdle)

	s.logger.Info("Session reset")
	s.emit(entities.SessionEvent{
		Kind:     entities.EventReset,
		State:    s.state,
		Messages: s.transcript.Messages(),
	})
}

// ExportSummary summarizes the transcript. Only an idle session can be
// summarized, so the transcript cannot change underneath the summary.
func (s *VoiceSession) ExportSummary(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", domain.ErrSessionClosed
	}
	if s.state != entities.StateIdle {
		state := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("%w: cannot summarize while %s", domain.ErrSessionBusy, state)
	}
	s.touch()
	messages := s.transcript.Messages()
	s.mu.Unlock()

	s.logger.Info("Exporting consultation summary", zap.Int("messages", len(messages)))
	return s.responder.Summarize(ctx, messages), nil
}

// UpdateSettings replaces the voice settings. An utterance already playing
// keeps the settings it started with.
func (s *VoiceSession) UpdateSettings(settings entities.VoiceSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings = settings.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	s.touch()
	s.settings = settings
	s.emit(entities.SessionEvent{Kind: entities.EventSettings, Settings: &settings})
	return nil
}

// PatchSettings applies the present fields of update on top of the current
// settings and returns the result
func (s *VoiceSession) PatchSettings(update entities.VoiceSettingsUpdate) (entities.VoiceSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.settings, domain.ErrSessionClosed
	}
	settings := update.ApplyTo(s.settings)
	if err := settings.Validate(); err != nil {
		return s.settings, err
	}
	s.touch()
	s.settings = settings
	s.emit(entities.SessionEvent{Kind: entities.EventSettings, Settings: &settings})
	return settings, nil
}

func (s *VoiceSession) Settings() entities.VoiceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *VoiceSession) State() entities.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Partial returns the interim transcript of the current utterance
func (s *VoiceSession) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// Messages returns a copy of the transcript
func (s *VoiceSession) Messages() []entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Messages()
}

func (s *VoiceSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ID:       s.id,
		State:    s.state,
		Partial:  s.partial,
		Messages: s.transcript.Messages(),
		Settings: s.settings,
	}
}

// Voices lists the output voices for the session language. The list can be
// empty until the engine has loaded its voices.
func (s *VoiceSession) Voices(ctx context.Context) []entities.Voice {
	if s.output == nil {
		return []entities.Voice{}
	}
	return entities.FilterVoicesByLanguage(s.output.ListVoices(ctx), s.config.Language)
}

func (s *VoiceSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close stops all activity and waits for the running turn to exit
func (s *VoiceSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abandonTurn()
	s.listener = nil
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Session closed")
}

func (s *VoiceSession) onTranscript(seq uint64, transcript string, isFinal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.listenSeq || s.state != entities.StateListening {
		return
	}
	s.touch()

	if !isFinal {
		s.partial = transcript
		s.emit(entities.SessionEvent{Kind: entities.EventPartial, Partial: transcript})
		return
	}

	text := strings.TrimSpace(transcript)
	if text == "" {
		s.logger.Debug("Ignoring blank final transcript")
		return
	}

	s.stopCapture()
	s.beginTurn(text)
}

func (s *VoiceSession) onCaptureError(seq uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.listenSeq || s.state != entities.StateListening {
		return
	}

	s.logger.Warn("Speech capture ended", zap.String("reason", reason))
	s.stopCapture()
	s.setState(entities.StateIdle)

	code := entities.ErrorCodeCaptureFailed
	if domain.IsBlockingCaptureReason(reason) {
		code = entities.ErrorCodeCaptureUnavailable
	}
	s.emitError(code, reason)
}

// beginTurn records the user's utterance and starts generating the reply.
// Must be called with the lock held from idle or listening.
func (s *VoiceSession) beginTurn(text string) {
	history := s.transcript.Messages()

	msg := entities.NewMessage(entities.OriginUser, text, s.stamp())
	if err := s.transcript.Append(msg); err != nil {
		s.logger.Error("Failed to record user message", zap.Error(err))
		s.setState(entities.StateIdle)
		return
	}
	s.partial = ""
	s.emit(entities.SessionEvent{Kind: entities.EventMessage, Message: &msg})
	s.setState(entities.StateProcessing)

	prompt := BuildReplyPrompt(s.config.Persona, history, text, s.config.HistoryTurns)

	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	epoch := s.epoch

	s.wg.Add(1)
	go s.runTurn(ctx, cancel, epoch, prompt)
}

// runTurn generates and speaks one reply. A reset or close in between makes
// every remaining step a no-op.
func (s *VoiceSession) runTurn(ctx context.Context, cancel context.CancelFunc, epoch uint64, prompt string) {
	defer s.wg.Done()
	defer cancel()

	reply := s.responder.Generate(ctx, prompt)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if strings.TrimSpace(reply) == "" {
		reply = FallbackResponse
	}
	msg := entities.NewMessage(entities.OriginAssistant, reply, s.stamp())
	if err := s.transcript.Append(msg); err != nil {
		s.logger.Error("Failed to record assistant message", zap.Error(err))
		s.turnCancel = nil
		s.setState(entities.StateIdle)
		s.mu.Unlock()
		return
	}
	s.emit(entities.SessionEvent{Kind: entities.EventMessage, Message: &msg})
	s.setState(entities.StateSpeaking)
	settings := s.settings
	s.mu.Unlock()

	var err error
	if s.output != nil {
		err = s.output.Speak(ctx, reply, settings)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.turnCancel = nil
	s.touch()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSynthesisUnavailable):
		s.logger.Info("Speech output unavailable, reply shown as text only")
	case errors.Is(err, domain.ErrSpeechInterrupted), errors.Is(err, context.Canceled):
		s.logger.Info("Reply playback interrupted")
	default:
		s.logger.Error("Speech synthesis failed", zap.Error(err))
		s.emitError(entities.ErrorCodeSynthesisFailed, synthesisCode(err))
	}
	s.setState(entities.StateIdle)
}

// abandonTurn stops capture, generation and playback, and invalidates any
// pending callbacks. Must be called with the lock held.
func (s *VoiceSession) abandonTurn() {
	s.epoch++
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	if s.state == entities.StateListening {
		s.stopCapture()
	}
	if s.output != nil {
		s.output.Cancel()
	}
}

// stopCapture ends the current capture run and drops its late callbacks
func (s *VoiceSession) stopCapture() {
	s.listenSeq++
	s.partial = ""
	if s.capture != nil {
		s.capture.StopListening()
	}
}

func (s *VoiceSession) setState(next entities.SessionState) {
	if s.state == next {
		return
	}
	if !s.state.CanTransitionTo(next) {
		s.logger.Error("Refusing state change",
			zap.Error(domain.ErrInvalidTransition),
			zap.String("from", string(s.state)),
			zap.String("to", string(next)))
		return
	}

	s.logger.Debug("Session state changed",
		zap.String("from", string(s.state)),
		zap.String("to", string(next)))
	s.state = next
	s.emit(entities.SessionEvent{Kind: entities.EventState, State: next})
}

func (s *VoiceSession) emitError(code, detail string) {
	s.emit(entities.SessionEvent{
		Kind:      entities.EventError,
		State:     s.state,
		ErrorCode: code,
		Error:     detail,
	})
}

func (s *VoiceSession) emit(event entities.SessionEvent) {
	if s.listener == nil {
		return
	}
	event.SessionID = s.id
	event.At = s.config.Clock()
	s.listener(event)
}

func (s *VoiceSession) touch() {
	s.lastActive = s.config.Clock()
}

// stamp returns a message timestamp that never goes back in time
func (s *VoiceSession) stamp() time.Time {
	now := s.config.Clock()
	if last, ok := s.transcript.Last(); ok && now.Before(last.CreatedAt) {
		return last.CreatedAt
	}
	return now
}

func (s *VoiceSession) seedTranscript() *entities.Transcript {
	greeting := entities.NewMessage(entities.OriginAssistant, s.config.Greeting, s.config.Clock())
	transcript, err := entities.NewTranscript(greeting)
	if err != nil {
		s.logger.Error("Failed to seed greeting", zap.Error(err))
		transcript, _ = entities.NewTranscript()
	}
	return transcript
}

func synthesisCode(err error) string {
	var synthErr *domain.SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr.Code
	}
	return domain.SynthesisCodeFailed
}
