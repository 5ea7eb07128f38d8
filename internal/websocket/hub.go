package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/adapters/stt"
	"github.com/nexariza/voicebot/adapters/tts"
	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/repositories"
	"github.com/nexariza/voicebot/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed for a summary to be generated
	summaryTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the configured site origin once it is part of Config
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HubConfig holds what every new session is created with
type HubConfig struct {
	Language   string
	SampleRate int
	Encoding   string
	Session    usecase.VoiceSessionConfig
}

// Hub owns the voice sessions and the clients connected to them. A session
// has at most one client; a newer connection replaces the older one.
type Hub struct {
	// Connected clients by session ID.
	clients map[string]*Client

	// Per-session bridges by session ID.
	bridges map[string]*Bridge

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients and bridges
	mu sync.RWMutex

	store     *usecase.SessionStore
	responder usecase.Responder
	engines   EngineFactory
	config    HubConfig
	validator *MessageValidator

	logger *zap.Logger
}

func NewHub(
	store *usecase.SessionStore,
	responder usecase.Responder,
	engines EngineFactory,
	config HubConfig,
	logger *zap.Logger,
) *Hub {
	if engines == nil {
		engines = BrowserEngines
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	config.Session.Language = config.Language

	return &Hub{
		clients:    make(map[string]*Client),
		bridges:    make(map[string]*Bridge),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		store:      store,
		responder:  responder,
		engines:    engines,
		config:     config,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run processes client registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			previous := h.clients[client.sessionID]
			h.clients[client.sessionID] = client
			h.mu.Unlock()

			if previous != nil && previous != client {
				previous.close()
				h.logger.Info("Client replaced", zap.String("sessionID", client.sessionID))
			} else {
				h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))
			}
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client.sessionID] == client {
				delete(h.clients, client.sessionID)
			}
			bridge := h.bridges[client.sessionID]
			h.mu.Unlock()

			if bridge != nil {
				bridge.detach(client)
			}
			client.close()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
		}
	}
}

// OpenSession creates a new idle session with its own speech engines
func (h *Hub) OpenSession() (*usecase.VoiceSession, error) {
	id := uuid.NewString()
	bridge := NewBridge(id, h.logger)
	recognizer, synthesizer := h.engines(bridge)

	capture := stt.NewCapture(recognizer, repositories.RecognitionConfig{
		Language:       h.config.Language,
		Continuous:     true,
		InterimResults: true,
		SampleRate:     h.config.SampleRate,
		Encoding:       h.config.Encoding,
	}, h.logger)
	speaker := tts.NewSpeaker(synthesizer, h.config.Language, h.logger)

	session := usecase.NewVoiceSession(id, capture, speaker, h.responder, h.config.Session, h.logger)
	session.SetListener(bridge.forward)

	if err := h.store.Add(session); err != nil {
		session.Close()
		return nil, err
	}

	h.mu.Lock()
	h.bridges[id] = bridge
	h.mu.Unlock()

	h.logger.Info("Session opened", zap.String("sessionID", id))
	return session, nil
}

func (h *Hub) Session(id string) (*usecase.VoiceSession, error) {
	return h.store.Get(id)
}

// Bridge returns the bridge of a session, or nil if it does not exist
func (h *Hub) Bridge(id string) *Bridge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bridges[id]
}

// CloseSession stops a session and disconnects its client
func (h *Hub) CloseSession(id string) error {
	session, ok := h.store.Remove(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Close()

	h.mu.Lock()
	client := h.clients[id]
	delete(h.clients, id)
	delete(h.bridges, id)
	h.mu.Unlock()

	if client != nil {
		client.close()
	}
	h.logger.Info("Session closed", zap.String("sessionID", id))
	return nil
}

// ExpireIdleSessions closes sessions without a connected client that have
// been inactive for longer than ttl
func (h *Hub) ExpireIdleSessions(ttl time.Duration, now time.Time) int {
	expired := 0
	for _, session := range h.store.Expired(ttl, now) {
		if bridge := h.Bridge(session.ID()); bridge != nil && bridge.Attached() {
			continue
		}
		if err := h.CloseSession(session.ID()); err == nil {
			expired++
		}
	}
	return expired
}

// ServeSession upgrades the request and attaches the connection to a session
func (h *Hub) ServeSession(c echo.Context, sessionID string) error {
	if _, err := h.store.Get(sessionID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	bridge := h.Bridge(sessionID)
	if bridge == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan WriteData, 256),
		done:      make(chan struct{}),
		sessionID: sessionID,
		bridge:    bridge,
		logger:    h.logger.With(zap.String("sessionID", sessionID)),
	}

	// Attach before reading so engine commands issued by the first messages
	// reach this connection
	bridge.attach(client)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return errors.New("hub is not running")
	}

	go client.writePump()
	go client.readPump()

	return nil
}

func (h *Hub) sendSnapshot(client *Client) {
	session, err := h.store.Get(client.sessionID)
	if err != nil {
		return
	}
	client.sendJSON(CreateSessionMessage(session.Snapshot()))
}

// WriteData is a frame queued for the write pump
type WriteData struct {
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed when the connection is being torn down.
	done      chan struct{}
	closeOnce sync.Once

	sessionID string
	bridge    *Bridge
	logger    *zap.Logger
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue waits for room in the send buffer
func (c *Client) enqueue(ctx context.Context, data WriteData) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrEngineDetached
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendJSON queues msg without blocking, dropping it if the buffer is full
func (c *Client) sendJSON(msg interface{}) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.String("type", fmt.Sprintf("%T", msg)))
		return false
	}
}

func (c *Client) sendError(code, message, details string) {
	c.sendJSON(CreateErrorMessage(code, message, details))
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			// Microphone audio for server side recognition
			c.bridge.handleAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message received", zap.Error(err))
		c.sendError("invalid_message", "Invalid message", err.Error())
		return
	}

	session, err := c.hub.Session(c.sessionID)
	if err != nil {
		c.sendError("session_not_found", "Session not found", "")
		return
	}

	switch m := msg.(type) {
	case *ControlMessage:
		c.handleControl(session, m)

	case *UpdateSettingsMessage:
		if _, err := session.PatchSettings(m.Settings); err != nil {
			c.reportError(err)
		}

	case *SendTextMessage:
		if err := session.SubmitText(m.Text); err != nil {
			c.reportError(err)
		}

	case *CapabilitiesMessage:
		c.bridge.setCapabilities(Capabilities{Recognition: m.Recognition, Synthesis: m.Synthesis})
		c.logger.Info("Client capabilities",
			zap.Bool("recognition", m.Recognition),
			zap.Bool("synthesis", m.Synthesis))

	case *VoicesMessage:
		c.bridge.setVoices(m.Voices)
		c.sendJSON(CreateVoicesMessage(session.Voices(context.Background())))

	case *CaptureResultMessage:
		c.bridge.deliverResult(m.RunID, repositories.RecognitionResult{
			Transcript: m.Transcript,
			IsFinal:    m.IsFinal,
		})

	case *CaptureErrorMessage:
		c.bridge.finishRecognition(m.RunID, &domain.CaptureError{Reason: m.Reason})

	case *CaptureEndMessage:
		c.bridge.finishRecognition(m.RunID, nil)

	case *SpeakEndMessage:
		c.bridge.finishUtterance(m.UtteranceID, nil)

	case *SpeakErrorMessage:
		c.bridge.finishUtterance(m.UtteranceID, &domain.SynthesisError{
			Code: m.Code,
			Err:  errors.New("browser speech synthesis failed"),
		})
	}
}

func (c *Client) handleControl(session *usecase.VoiceSession, msg *ControlMessage) {
	switch msg.Type {
	case MessageTypeStartListening:
		if err := session.StartListening(); err != nil {
			c.reportError(err)
		}
	case MessageTypeStopListening:
		session.StopListening()
	case MessageTypeResetSession:
		session.ResetSession()
	case MessageTypeExportSummary:
		// Summaries call the model; keep the read loop responsive
		go c.exportSummary(session)
	case MessageTypeListVoices:
		c.sendJSON(CreateVoicesMessage(session.Voices(context.Background())))
	case MessageTypePing:
		c.sendJSON(CreatePongMessage())
	}
}

func (c *Client) exportSummary(session *usecase.VoiceSession) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	summary, err := session.ExportSummary(ctx)
	if err != nil {
		c.reportError(err)
		return
	}
	c.sendJSON(CreateSummaryMessage(summary, time.Now()))
}

// reportError tells the client why a request was refused. Capture
// availability is already announced by the session itself.
func (c *Client) reportError(err error) {
	switch {
	case errors.Is(err, domain.ErrCaptureUnavailable):
	case errors.Is(err, domain.ErrSessionBusy):
		c.sendError("session_busy", "Please wait for the current reply to finish", err.Error())
	case errors.Is(err, domain.ErrInvalidSettings):
		c.sendError("invalid_settings", "Invalid voice settings", err.Error())
	case errors.Is(err, domain.ErrEmptyUtterance):
		c.sendError("empty_utterance", "Nothing to send", err.Error())
	case errors.Is(err, domain.ErrSessionClosed):
		c.sendError("session_closed", "Session has ended", err.Error())
	default:
		c.logger.Error("Request failed", zap.Error(err))
		c.sendError("internal_error", "Request failed", err.Error())
	}
}
