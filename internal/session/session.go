// Package session implements the session manager of spec §4.6: tracks one
// ClientSession per connected MCP client (http/websocket/stdio transport),
// enforces a per-client session cap by evicting the oldest session, and
// periodically sweeps sessions idle longer than a timeout.
//
// Grounded on the supplemented session_manager.py (original_source),
// translated from asyncio.Lock + a background cleanup task into a
// sync.Mutex-protected map plus a ticker goroutine, the same shape the
// teacher uses for its RateLimiter's cleanup loop (server/rate_limiter.go).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientSession mirrors ClientSession from session_manager.py.
type ClientSession struct {
	SessionID      string
	ClientID       string
	ClientType     string // "http", "websocket", "stdio"
	CreatedAt      time.Time
	ConnectionInfo map[string]any

	mu             sync.Mutex
	lastActivity   time.Time
	requestCount   int64
	activeRequests map[string]struct{}
}

func newClientSession(clientID, clientType string, connectionInfo map[string]any) *ClientSession {
	now := time.Now()
	return &ClientSession{
		SessionID:      uuid.NewString(),
		ClientID:       clientID,
		ClientType:     clientType,
		CreatedAt:      now,
		ConnectionInfo: connectionInfo,
		lastActivity:   now,
		activeRequests: make(map[string]struct{}),
	}
}

func (s *ClientSession) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AddRequest registers requestID as in-flight on this session.
func (s *ClientSession) AddRequest(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRequests[requestID] = struct{}{}
	s.requestCount++
	s.lastActivity = time.Now()
}

// RemoveRequest marks requestID as completed.
func (s *ClientSession) RemoveRequest(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeRequests, requestID)
	s.lastActivity = time.Now()
}

// IsActive reports whether the session has any in-flight request.
func (s *ClientSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeRequests) > 0
}

// Snapshot captures the fields needed for a stats/introspection response.
type Snapshot struct {
	SessionID      string
	ClientID       string
	ClientType     string
	CreatedAt      time.Time
	LastActivity   time.Time
	RequestCount   int64
	ActiveRequests int
}

func (s *ClientSession) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:      s.SessionID,
		ClientID:       s.ClientID,
		ClientType:     s.ClientType,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
		RequestCount:   s.requestCount,
		ActiveRequests: len(s.activeRequests),
	}
}

// Config tunes session lifetime and per-client limits (spec §4.6).
type Config struct {
	SessionTimeout      time.Duration
	CleanupInterval     time.Duration
	MaxSessionsPerClient int
}

// Manager tracks every live session, indexed by id and grouped by client.
type Manager struct {
	cfg Config

	mu             sync.Mutex
	sessions       map[string]*ClientSession
	clientSessions map[string]map[string]struct{}

	totalCreated int64
	totalExpired int64
	totalReqs    int64

	stop chan struct{}
	done chan struct{}
}

// New builds a session manager; call Start to launch the idle-sweep loop.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:            cfg,
		sessions:       make(map[string]*ClientSession),
		clientSessions: make(map[string]map[string]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the background cleanup loop.
func (m *Manager) Start() {
	go m.cleanupLoop()
}

// Stop halts the cleanup loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

// CreateSession opens a new session for clientID, evicting the client's
// oldest session first if MaxSessionsPerClient would be exceeded (spec
// §4.6 "per-client session cap").
func (m *Manager) CreateSession(clientID, clientType string, connectionInfo map[string]any) *ClientSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.clientSessions[clientID]
	if len(existing) >= m.cfg.MaxSessionsPerClient && m.cfg.MaxSessionsPerClient > 0 {
		var oldestID string
		var oldestAt time.Time
		for id := range existing {
			sess := m.sessions[id]
			if oldestID == "" || sess.CreatedAt.Before(oldestAt) {
				oldestID, oldestAt = id, sess.CreatedAt
			}
		}
		if oldestID != "" {
			m.removeLocked(oldestID)
		}
	}

	sess := newClientSession(clientID, clientType, connectionInfo)
	m.sessions[sess.SessionID] = sess
	if m.clientSessions[clientID] == nil {
		m.clientSessions[clientID] = make(map[string]struct{})
	}
	m.clientSessions[clientID][sess.SessionID] = struct{}{}
	m.totalCreated++
	return sess
}

// GetOrCreate returns clientID's most recently created tracked session, or
// opens a new one if none is live — the "look up/create a client session"
// step spec §2's control flow runs at the start of every request.
func (m *Manager) GetOrCreate(clientID, clientType string, connectionInfo map[string]any) *ClientSession {
	m.mu.Lock()
	var newest *ClientSession
	for id := range m.clientSessions[clientID] {
		sess := m.sessions[id]
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			newest = sess
		}
	}
	m.mu.Unlock()

	if newest != nil {
		newest.touch()
		return newest
	}
	return m.CreateSession(clientID, clientType, connectionInfo)
}

// Get retrieves a session by id, bumping its activity timestamp.
func (m *Manager) Get(sessionID string) (*ClientSession, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

// ClientSessions returns every session belonging to clientID.
func (m *Manager) ClientSessions(clientID string) []*ClientSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.clientSessions[clientID]
	out := make([]*ClientSession, 0, len(ids))
	for id := range ids {
		out = append(out, m.sessions[id])
	}
	return out
}

// RemoveSession removes a session by id, returning whether it existed.
func (m *Manager) RemoveSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(sessionID)
}

func (m *Manager) removeLocked(sessionID string) bool {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(m.sessions, sessionID)
	if ids := m.clientSessions[sess.ClientID]; ids != nil {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(m.clientSessions, sess.ClientID)
		}
	}
	return true
}

// CleanupExpired removes every session idle longer than SessionTimeout,
// returning the count removed.
func (m *Manager) CleanupExpired() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity)
		sess.mu.Unlock()
		if idle > m.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}
	m.totalExpired += int64(len(expired))
	m.mu.Unlock()

	return len(expired)
}

// ForceCleanupClient removes every session belonging to clientID.
func (m *Manager) ForceCleanupClient(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.clientSessions[clientID]))
	for id := range m.clientSessions[clientID] {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.removeLocked(id)
	}
	return len(ids)
}

// Stats reports the aggregate numbers the monitoring surface exposes.
type Stats struct {
	TotalSessions        int
	ActiveSessions        int
	IdleSessions          int
	SessionsByType        map[string]int
	TotalActiveRequests   int
	TotalSessionsCreated  int64
	TotalSessionsExpired  int64
	TotalRequestsProcessed int64
	UniqueClients         int
}

// Stats computes the aggregate view, mirroring get_session_stats.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		SessionsByType:       make(map[string]int),
		TotalSessionsCreated: m.totalCreated,
		TotalSessionsExpired: m.totalExpired,
		UniqueClients:        len(m.clientSessions),
	}

	for _, sess := range m.sessions {
		snap := sess.snapshot()
		s.TotalSessions++
		s.SessionsByType[snap.ClientType]++
		s.TotalActiveRequests += snap.ActiveRequests
		s.TotalRequestsProcessed += snap.RequestCount
		if snap.ActiveRequests > 0 {
			s.ActiveSessions++
		} else {
			s.IdleSessions++
		}
	}
	return s
}
