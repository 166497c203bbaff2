package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionTTL = errors.New("session ttl must be positive")

type Session struct {
	Token    string
	Username string
	Created  time.Time
	Expires  time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.Expires)
}

// SessionStore keeps logged in sessions. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	Login(ctx context.Context, username string) (Session, error)
	Lookup(ctx context.Context, token string) (Session, bool)
	Logout(ctx context.Context, token string)
}

// MemoryStore is a SessionStore which forgets everything on restart.
type MemoryStore struct {
	mx       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]Session
}

func NewMemoryStore(ttl time.Duration) (*MemoryStore, error) {
	if ttl <= 0 {
		return nil, ErrSessionTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}, nil
}

// WithClock replaces the time source, use before the store is shared.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Login(_ context.Context, username string) (Session, error) {
	if username == "" {
		return Session{}, errors.New("empty username")
	}
	now := m.now()
	s := Session{
		Token:    uuid.NewString(),
		Username: username,
		Created:  now,
		Expires:  now.Add(m.ttl),
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.sessions[s.Token] = s
	return s, nil
}

func (m *MemoryStore) Lookup(_ context.Context, token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, false
	}
	if s.Expired(m.now()) {
		delete(m.sessions, token)
		return Session{}, false
	}
	return s, true
}

func (m *MemoryStore) Logout(_ context.Context, token string) {
	m.mx.Lock()
	defer m.mx.Unlock()
	delete(m.sessions, token)
}

// Sweep drops sessions expired at now and returns how many were dropped.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mx.Lock()
	defer m.mx.Unlock()
	var n int
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

func (m *MemoryStore) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return len(m.sessions)
}
