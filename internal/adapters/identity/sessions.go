package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	domain "robolearn/internal/domain/identity"
)

// ErrSessionExpired is returned when asked to store a session whose expiry has passed.
var ErrSessionExpired = errors.New("session already expired")

// SessionStore keeps active sessions by token.
type SessionStore interface {
	Create(ctx context.Context, s domain.Session) error
	// Get returns false for unknown or expired tokens.
	Get(ctx context.Context, token string) (domain.Session, bool, error)
	Delete(ctx context.Context, token string) error
}

// MemorySessionStore is an in-memory session store for single-process deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	now      func() time.Time
}

// NewMemorySessionStore creates a new in-memory session store. A nil clock means time.Now.
func NewMemorySessionStore(now func() time.Time) *MemorySessionStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionStore{
		sessions: make(map[string]domain.Session),
		now:      now,
	}
}

// Create stores a session under its token.
// PRE: s.Token is non-empty
// POST: Session is stored, or ErrSessionExpired and nothing stored
func (m *MemorySessionStore) Create(_ context.Context, s domain.Session) error {
	if s.IsExpired(m.now()) {
		return ErrSessionExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

// Get retrieves a session by token, evicting it once expired.
// PRE: token is non-empty
// POST: Returns session if present and not expired
func (m *MemorySessionStore) Get(_ context.Context, token string) (domain.Session, bool, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return domain.Session{}, false, nil
	}
	if s.IsExpired(m.now()) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

// Delete removes a session by token.
// POST: Session with given token is removed
func (m *MemorySessionStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Sweep removes every expired session and reports how many went.
func (m *MemorySessionStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, s := range m.sessions {
		if s.IsExpired(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// StartSweeper sweeps expired sessions every interval until stopCh is closed, so sessions
// that are never read again do not pile up.
func (m *MemorySessionStore) StartSweeper(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Debug("sessions_swept", "count", n)
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// NewSessionToken returns 32 random bytes, hex encoded.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
