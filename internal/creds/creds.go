// ABOUTME: Credential storage contract and the AuthSession it guards.
// ABOUTME: Sessions are replaced atomically; Clear wipes everything on logout.

package creds

import (
	"errors"
	"sync"
	"time"
)

// ErrNoSession is returned by Get when no session is stored.
var ErrNoSession = errors.New("no stored session")

// Session is the access/refresh token pair governing request authorization.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the access token's lifetime has already passed.
// A zero ExpiresAt means the expiry is unknown and the token is presumed
// live until the server says otherwise.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store is the secure credential storage contract. Implementations must
// make Set atomic: a reader never observes a half-replaced session.
type Store interface {
	Get() (Session, error)
	Set(Session) error
	Clear() error
}

// MemoryStore keeps the session in process memory. Used by tests and as
// the fallback when no persistent store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	session Session
	present bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.present {
		return Session{}, ErrNoSession
	}
	return m.session, nil
}

func (m *MemoryStore) Set(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	m.present = true
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = Session{}
	m.present = false
	return nil
}
