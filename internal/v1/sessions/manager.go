// Package sessions issues and validates resume tokens so clients can
// survive transient disconnects without rejoining from scratch.
package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// TTL is the sliding session lifetime. A successful resume renews it.
const TTL = 5 * time.Minute

// Session is the resumable state snapshot for one participant. It does not
// pin a Room: if the room was reaped, resume returns a migration result.
type Session struct {
	Token         string
	UserID        types.UserIDType
	StreamID      types.StreamIDType
	Role          types.RoleType
	QueuePosition int // 0 when not queued; 1-based position otherwise
	ExpiresAt     time.Time
}

// Patch carries the mutable fields of an update. Nil members are left
// untouched.
type Patch struct {
	Role          *types.RoleType
	QueuePosition *int
}

// Manager owns the token → session map. Expired entries are evicted lazily
// on Get and wholesale by the background sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create issues a fresh token for the given participant.
func (m *Manager) Create(userID types.UserIDType, streamID types.StreamIDType, role types.RoleType) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := fmt.Sprintf("sess_%d_%s", m.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
	s := &Session{
		Token:     token,
		UserID:    userID,
		StreamID:  streamID,
		Role:      role,
		ExpiresAt: m.now().Add(TTL),
	}
	m.sessions[token] = s
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	return s
}

// Get returns the session for token if unexpired, else nil. Expired records
// are evicted on the spot.
func (m *Manager) Get(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil
	}
	if m.now().After(s.ExpiresAt) {
		delete(m.sessions, token)
		metrics.SessionsExpired.Inc()
		metrics.SessionsActive.Set(float64(len(m.sessions)))
		return nil
	}
	copied := *s
	return &copied
}

// Update applies a patch and extends the TTL. Reports false for unknown or
// expired tokens.
func (m *Manager) Update(token string, patch Patch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok || m.now().After(s.ExpiresAt) {
		return false
	}
	if patch.Role != nil {
		s.Role = *patch.Role
	}
	if patch.QueuePosition != nil {
		s.QueuePosition = *patch.QueuePosition
	}
	s.ExpiresAt = m.now().Add(TTL)
	return true
}

// Sweep evicts every expired session. Called on a 30s cadence by the
// lifecycle manager.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for token, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, token)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.SessionsExpired.Add(float64(evicted))
		metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	return evicted
}

// Len reports the number of live (possibly expired-but-unswept) sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SetClock swaps the time source. Test helper.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
