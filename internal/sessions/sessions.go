// Package sessions provides the in-memory context manager that carries model
// reasoning continuity (thought signatures) between the calls of one run.
package sessions

import (
	"sync"

	"github.com/agentoven/uiforge/pkg/models"
)

// DefaultWindow is the number of signatures retained per session.
const DefaultWindow = 8

// Manager holds one bounded signature log per session. Oldest entries are
// evicted first once the window is full.
//
// Calls for different sessions are independent. Writes to the same session
// are ordered by the orchestrator; the mutex only guards the map and slices.
type Manager struct {
	window int

	mu       sync.RWMutex
	sessions map[string]*sessionLog
}

type sessionLog struct {
	session    models.Session
	signatures []models.ThoughtSignature
}

// NewManager creates a context manager. A window below 1 is treated as 1.
func NewManager(window int) *Manager {
	if window < 1 {
		window = 1
	}
	return &Manager{
		window:   window,
		sessions: make(map[string]*sessionLog),
	}
}

// Window returns the configured bound.
func (m *Manager) Window() int { return m.window }

// Open registers session metadata. Recording into an unopened session is
// allowed and creates it implicitly.
func (m *Manager) Open(session models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log, ok := m.sessions[session.ID]; ok {
		log.session = session
		return
	}
	m.sessions[session.ID] = &sessionLog{session: session}
}

// Record appends a signature, silently evicting the oldest beyond the window.
// Empty tokens are ignored; there is nothing to continue from.
func (m *Manager) Record(sessionID string, sig models.ThoughtSignature) {
	if sig.Token == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.sessions[sessionID]
	if !ok {
		log = &sessionLog{session: models.Session{ID: sessionID}}
		m.sessions[sessionID] = log
	}

	log.signatures = append(log.signatures, sig)
	if over := len(log.signatures) - m.window; over > 0 {
		// Copy down instead of reslicing so the backing array does not grow forever.
		kept := make([]models.ThoughtSignature, m.window)
		copy(kept, log.signatures[over:])
		log.signatures = kept
	}
}

// RecentView returns up to count of the most recent signatures in call order.
// Asking for more than are available returns everything.
func (m *Manager) RecentView(sessionID string, count int) []models.ThoughtSignature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.sessions[sessionID]
	if !ok || count <= 0 {
		return []models.ThoughtSignature{}
	}

	n := len(log.signatures)
	if count > n {
		count = n
	}
	out := make([]models.ThoughtSignature, count)
	copy(out, log.signatures[n-count:])
	return out
}

// Len returns the number of retained signatures for a session.
func (m *Manager) Len(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if log, ok := m.sessions[sessionID]; ok {
		return len(log.signatures)
	}
	return 0
}

// ForRequest returns the payload to attach to the next model call. A session
// with nothing recorded yields the explicit empty-context marker.
func (m *Manager) ForRequest(sessionID string) models.ContextPayload {
	view := m.RecentView(sessionID, m.window)
	if len(view) == 0 {
		return models.EmptyContext()
	}
	tokens := make([]string, len(view))
	for i, sig := range view {
		tokens[i] = sig.Token
	}
	return models.ContextPayload{Signatures: tokens}
}

// Session returns the registered metadata for a session.
func (m *Manager) Session(sessionID string) (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.sessions[sessionID]
	if !ok {
		return models.Session{}, false
	}
	return log.session, true
}

// Discard drops all state for a session once its run has finished.
func (m *Manager) Discard(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
