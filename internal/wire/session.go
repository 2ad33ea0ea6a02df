package wire

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/nav"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/store"
)

const (
	defaultMaxAge      = 8 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
)

// Session holds per-connection explorer state: one orchestrator, its
// notice collector and activity timestamps.
type Session struct {
	ID           string
	Orchestrator *nav.Orchestrator
	Notices      *notice.Collector
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActiveAt) > timeout
}

// SessionManager handles session creation, lookup, and cleanup.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	registry    *metamodel.Registry
	provider    store.Provider
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewSessionManager creates a session manager with default timeouts.
func NewSessionManager(reg *metamodel.Registry, provider store.Provider) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		registry:    reg,
		provider:    provider,
		maxAge:      defaultMaxAge,
		idleTimeout: defaultIdleTimeout,
	}
}

// Create creates a new session with its own orchestrator and returns it.
func (m *SessionManager) Create() *Session {
	notices := notice.NewCollector()
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		Orchestrator: nav.New(m.registry, m.provider, notices),
		Notices:      notices,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil
	}
	return s
}

// Remove deletes a session, tearing down its view tree.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Orchestrator.Close()
	}
}

// Cleanup removes all expired and idle sessions. Called periodically.
func (m *SessionManager) Cleanup() {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		s.Orchestrator.Close()
	}
}
