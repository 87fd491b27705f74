package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UpperMoon0/Echo/internal/audio"
	"github.com/UpperMoon0/Echo/internal/metrics"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/segmenter"
)

// cleanupInterval is how often the eviction routine scans for idle sessions
const cleanupInterval = 30 * time.Second

// Manager owns all active client sessions. Sessions are created on first
// use, keyed by client identifier, and evicted after a period of
// inactivity.
type Manager struct {
	sessions map[string]*Session
	logger   *slog.Logger
	config   ManagerConfig
	rec      recognizer.Recognizer

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}

	mu sync.RWMutex
}

// ManagerConfig contains configuration applied to every session
type ManagerConfig struct {
	SampleRate     int
	Language       string
	SessionTimeout time.Duration
	Segmenter      segmenter.Config

	// Metrics is optional; nil disables session metric recording
	Metrics *metrics.Metrics
}

// NewManager creates a new session manager
func NewManager(logger *slog.Logger, rec recognizer.Recognizer, config ManagerConfig) (*Manager, error) {
	if rec == nil {
		return nil, fmt.Errorf("recognizer cannot be nil")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.SessionTimeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %v", config.SessionTimeout)
	}

	// Surface segmenter configuration errors at startup rather than on the
	// first connection.
	if _, err := segmenter.New(config.Segmenter); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		config:   config,
		rec:      rec,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// GetOrCreateSession returns the session for the given client, creating it
// on first use
func (m *Manager) GetOrCreateSession(clientID string) (*Session, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}

	m.mu.RLock()
	existing, exists := m.sessions[clientID]
	m.mu.RUnlock()

	if exists {
		return existing, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock
	if existing, exists := m.sessions[clientID]; exists {
		return existing, nil
	}

	seg, err := segmenter.New(m.config.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)

	now := time.Now()
	sess := &Session{
		ID:           clientID,
		CreatedAt:    now,
		LastActivity: now,
		accumulator:  audio.NewAccumulator(m.config.SampleRate),
		segmenter:    seg,
		recognizer:   m.rec,
		language:     m.config.Language,
		logger:       m.logger,
		metrics:      m.config.Metrics,
		ctx:          ctx,
		cancel:       cancel,
	}

	m.sessions[clientID] = sess

	if m.config.Metrics != nil {
		m.config.Metrics.RecordSessionCreated()
		m.config.Metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created new session",
		slog.String("client_id", clientID),
		slog.Int("sample_rate", m.config.SampleRate),
		slog.String("language", m.config.Language),
	)

	return sess, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(clientID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[clientID]
	return sess, exists
}

// RemoveSession closes and removes a session
func (m *Manager) RemoveSession(clientID string) bool {
	m.mu.Lock()
	sess, exists := m.sessions[clientID]
	if exists {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := sess.GetInfo()
	sess.Close()

	if m.config.Metrics != nil {
		m.config.Metrics.RecordSessionDestroyed(info.Duration.Seconds())
		m.config.Metrics.SetActiveSessions(m.GetActiveSessionCount())
	}

	m.logger.Info("Session removed",
		slog.String("client_id", clientID),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks_received", info.ChunksReceived),
		slog.Uint64("interim_events", info.InterimEvents),
		slog.Uint64("final_events", info.FinalEvents),
	)

	return true
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}

	return sessions
}

// Stop gracefully stops the session manager and closes all sessions
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	for clientID, sess := range m.sessions {
		sess.Close()
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped")
}

// startCleanupRoutine runs in a separate goroutine to evict idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.evictIdleSessions()
		}
	}
}

// evictIdleSessions removes sessions that have been inactive for too long
func (m *Manager) evictIdleSessions() {
	now := time.Now()
	idle := make([]string, 0)

	m.mu.RLock()
	for clientID, sess := range m.sessions {
		sess.mu.Lock()
		lastActivity := sess.LastActivity
		sess.mu.Unlock()

		if now.Sub(lastActivity) > m.config.SessionTimeout {
			idle = append(idle, clientID)
		}
	}
	m.mu.RUnlock()

	if len(idle) > 0 {
		m.logger.Info("Evicting idle sessions",
			slog.Int("idle_count", len(idle)),
		)

		for _, clientID := range idle {
			m.RemoveSession(clientID)
		}
	}
}
