package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/adapters/stt"
	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// EngineFactory builds the speech engines for a new session. The bridge is
// the session's link to the connected page: its audio feed carries microphone
// frames and it accepts synthesized audio as a sink.
type EngineFactory func(bridge *Bridge) (repositories.SpeechRecognizer, repositories.SpeechSynthesizer)

// BrowserEngines drives the Web Speech engines of the connected page
func BrowserEngines(bridge *Bridge) (repositories.SpeechRecognizer, repositories.SpeechSynthesizer) {
	return NewRemoteRecognizer(bridge), NewRemoteSynthesizer(bridge)
}

// Capabilities reports which engines the connected page provides
type Capabilities struct {
	Recognition bool
	Synthesis   bool
}

type pendingRecognition struct {
	runID   string
	ctx     context.Context
	results chan<- repositories.RecognitionResult
	done    chan error
	// inflight counts deliveries still writing to results
	inflight sync.WaitGroup
}

type pendingUtterance struct {
	id   string
	done chan error
}

// Bridge connects one session to whichever client is currently attached.
// Sessions outlive connections, so a page can reload and pick up where it was.
type Bridge struct {
	sessionID string
	feed      *stt.AudioFeed
	logger    *zap.Logger

	mu          sync.Mutex
	client      *Client
	caps        Capabilities
	voices      []entities.Voice
	recognition *pendingRecognition
	utterance   *pendingUtterance
}

func NewBridge(sessionID string, logger *zap.Logger) *Bridge {
	return &Bridge{
		sessionID: sessionID,
		feed:      stt.NewAudioFeed(0),
		logger:    logger.With(zap.String("sessionID", sessionID)),
	}
}

// Feed carries microphone audio received from the client
func (b *Bridge) Feed() *stt.AudioFeed {
	return b.feed
}

// Attached reports whether a client is connected
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

func (b *Bridge) Capabilities() Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

func (b *Bridge) Voices() []entities.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]entities.Voice(nil), b.voices...)
}

func (b *Bridge) attach(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil && b.client != c {
		// Work started on the previous page can never complete
		b.failPending(domain.ErrEngineDetached)
	}
	b.client = c
}

func (b *Bridge) detach(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != c {
		return
	}
	b.client = nil
	b.caps = Capabilities{}
	b.failPending(domain.ErrEngineDetached)
}

func (b *Bridge) current() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// failPending must be called with b.mu held
func (b *Bridge) failPending(err error) {
	if b.recognition != nil {
		b.recognition.done <- err
		b.recognition = nil
	}
	if b.utterance != nil {
		b.utterance.done <- err
		b.utterance = nil
	}
}

func (b *Bridge) setCapabilities(caps Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = caps
}

func (b *Bridge) setVoices(voices []entities.Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append([]entities.Voice(nil), voices...)
}

// forward relays a session event to the attached client. Events are dropped
// while no client is attached; the page gets a full snapshot on connect.
func (b *Bridge) forward(event entities.SessionEvent) {
	msg, ok := CreateEventMessage(event)
	if !ok {
		return
	}
	if client := b.current(); client != nil {
		client.sendJSON(msg)
	}
}

// send delivers an engine command to the attached client
func (b *Bridge) send(ctx context.Context, msg interface{}) error {
	client := b.current()
	if client == nil {
		return domain.ErrEngineDetached
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", msg, err)
	}
	return client.enqueue(ctx, WriteData{Type: websocket.TextMessage, Payload: payload})
}

// sendNow delivers a command that must not wait on a cancelled context
func (b *Bridge) sendNow(msg interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return b.send(ctx, msg)
}

// WriteAudio streams synthesized audio to the client as binary frames
func (b *Bridge) WriteAudio(ctx context.Context, chunk []byte) error {
	client := b.current()
	if client == nil {
		return domain.ErrEngineDetached
	}
	payload := make([]byte, len(chunk))
	copy(payload, chunk)
	return client.enqueue(ctx, WriteData{Type: websocket.BinaryMessage, Payload: payload})
}

func (b *Bridge) handleAudio(frame []byte) {
	if !b.feed.Push(frame) {
		b.logger.Debug("Dropped microphone frame", zap.Int("dropped", b.feed.Dropped()))
	}
}

func (b *Bridge) beginRecognition(p *pendingRecognition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recognition != nil {
		b.recognition.done <- domain.ErrSpeechInterrupted
	}
	b.recognition = p
}

// endRecognition detaches p, returning false if it was already finished
func (b *Bridge) endRecognition(p *pendingRecognition) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recognition != p {
		return false
	}
	b.recognition = nil
	return true
}

func (b *Bridge) deliverResult(runID string, result repositories.RecognitionResult) {
	b.mu.Lock()
	p := b.recognition
	if p == nil || p.runID != runID {
		b.mu.Unlock()
		b.logger.Debug("Ignoring result for stale capture run", zap.String("runID", runID))
		return
	}
	p.inflight.Add(1)
	b.mu.Unlock()

	defer p.inflight.Done()
	select {
	case p.results <- result:
	case <-p.ctx.Done():
	}
}

// finishRecognition completes the run with err, nil meaning it ended on its own
func (b *Bridge) finishRecognition(runID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recognition == nil || b.recognition.runID != runID {
		return
	}
	b.recognition.done <- err
	b.recognition = nil
}

func (b *Bridge) beginUtterance(u *pendingUtterance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.utterance != nil {
		b.utterance.done <- domain.ErrSpeechInterrupted
	}
	b.utterance = u
}

func (b *Bridge) endUtterance(u *pendingUtterance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.utterance == u {
		b.utterance = nil
	}
}

func (b *Bridge) finishUtterance(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.utterance == nil || b.utterance.id != id {
		return
	}
	b.utterance.done <- err
	b.utterance = nil
}

// RemoteRecognizer runs recognition in the page's Web Speech engine
type RemoteRecognizer struct {
	bridge *Bridge
}

func NewRemoteRecognizer(bridge *Bridge) *RemoteRecognizer {
	return &RemoteRecognizer{bridge: bridge}
}

func (r *RemoteRecognizer) Available() bool {
	return r.bridge.Capabilities().Recognition
}

func (r *RemoteRecognizer) Recognize(ctx context.Context, config repositories.RecognitionConfig, results chan<- repositories.RecognitionResult) error {
	p := &pendingRecognition{
		runID:   uuid.NewString(),
		ctx:     ctx,
		results: results,
		done:    make(chan error, 1),
	}
	r.bridge.beginRecognition(p)
	defer func() {
		r.bridge.endRecognition(p)
		p.inflight.Wait()
	}()

	start := &CaptureStartMessage{
		BaseMessage:    newBase(MessageTypeCaptureStart),
		RunID:          p.runID,
		Language:       config.Language,
		Continuous:     config.Continuous,
		InterimResults: config.InterimResults,
	}
	if err := r.bridge.send(ctx, start); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	select {
	case <-ctx.Done():
		stop := &CaptureStopMessage{BaseMessage: newBase(MessageTypeCaptureStop), RunID: p.runID}
		if err := r.bridge.sendNow(stop); err != nil {
			r.bridge.logger.Debug("Could not stop remote capture", zap.Error(err))
		}
		return nil
	case err := <-p.done:
		return err
	}
}

// RemoteSynthesizer speaks through the page's Web Speech engine
type RemoteSynthesizer struct {
	bridge *Bridge
}

func NewRemoteSynthesizer(bridge *Bridge) *RemoteSynthesizer {
	return &RemoteSynthesizer{bridge: bridge}
}

func (s *RemoteSynthesizer) Available() bool {
	return s.bridge.Capabilities().Synthesis
}

// Voices returns the voices last reported by the page
func (s *RemoteSynthesizer) Voices(ctx context.Context) ([]entities.Voice, error) {
	return s.bridge.Voices(), nil
}

func (s *RemoteSynthesizer) Utter(ctx context.Context, utterance repositories.Utterance) error {
	u := &pendingUtterance{id: uuid.NewString(), done: make(chan error, 1)}
	s.bridge.beginUtterance(u)
	defer s.bridge.endUtterance(u)

	speak := &SpeakMessage{
		BaseMessage: newBase(MessageTypeSpeak),
		UtteranceID: u.id,
		Text:        utterance.Text,
		Language:    utterance.Language,
		Rate:        utterance.Rate,
		Pitch:       utterance.Pitch,
		Volume:      utterance.Volume,
		Voice:       utterance.Voice.ID,
	}
	if err := s.bridge.send(ctx, speak); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		cancel := &SpeakCancelMessage{BaseMessage: newBase(MessageTypeSpeakCancel), UtteranceID: u.id}
		if err := s.bridge.sendNow(cancel); err != nil {
			s.bridge.logger.Debug("Could not cancel remote utterance", zap.Error(err))
		}
		return ctx.Err()
	case err := <-u.done:
		return err
	}
}
