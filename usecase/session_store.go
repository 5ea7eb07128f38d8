package usecase

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nexariza/voicebot/domain"
)

// SessionStore keeps live voice sessions in memory. Sessions are never
// persisted; closing the process ends every consultation.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*VoiceSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*VoiceSession),
	}
}

// Add registers a session under its id
func (m *SessionStore) Add(session *VoiceSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID() == "" {
		return errors.New("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID()]; exists {
		return errors.New("session with this id already exists")
	}
	m.sessions[session.ID()] = session
	return nil
}

func (m *SessionStore) Get(id string) (*VoiceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Remove unregisters a session and returns it. The caller closes it.
func (m *SessionStore) Remove(id string) (*VoiceSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	return session, exists
}

// List returns every session ordered by id
func (m *SessionStore) List() []*VoiceSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*VoiceSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID() < sessions[j].ID()
	})
	return sessions
}

func (m *SessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expired returns the sessions idle for longer than ttl at now
func (m *SessionStore) Expired(ttl time.Duration, now time.Time) []*VoiceSession {
	var expired []*VoiceSession
	for _, session := range m.List() {
		if now.Sub(session.LastActive()) > ttl {
			expired = append(expired, session)
		}
	}
	return expired
}
