package websocket

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionExpirer closes sessions that have been idle for too long
type SessionExpirer interface {
	ExpireIdleSessions(ttl time.Duration, now time.Time) int
}

// SessionCleanupService periodically expires abandoned sessions
type SessionCleanupService struct {
	expirer  SessionExpirer
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(expirer SessionExpirer, ttl, interval time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		expirer:  expirer,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	s.wg.Add(1)
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *SessionCleanupService) runCleanup() {
	if expired := s.expirer.ExpireIdleSessions(s.ttl, s.now()); expired > 0 {
		s.logger.Info("Expired idle sessions", zap.Int("count", expired))
	}
}
