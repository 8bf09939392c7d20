// Package session models the caller-session capability the core depends on.
//
// The core only requires get/set/pop semantics over string keys; cookie
// transport, signing, and storage topology belong to the collaborator that
// provides the implementation.
package session

import (
	"sync"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/id"
)

// Session is one caller-scoped mutable key-value map.
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
	// Pop atomically removes and returns a value; the read-and-clear step
	// single-use challenge consumption is built on.
	Pop(key string) (string, bool)
	Clear()
}

// Store manages server-side sessions keyed by opaque ids.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	clock    func() time.Time
	sessions map[string]*memorySession
}

// NewStore returns an in-memory session store with the given idle TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[string]*memorySession),
	}
}

// Create mints a new empty session and returns its id.
func (s *Store) Create() (string, Session, error) {
	sessionID, err := id.NewID()
	if err != nil {
		return "", nil, err
	}
	sess := &memorySession{values: make(map[string]string)}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.expiresAt = s.clock().Add(s.ttl)
	s.sessions[sessionID] = sess
	return sessionID, sess, nil
}

// Get returns the session for an id, refreshing its idle expiry. Expired
// sessions are dropped on read; there is no background sweep.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	now := s.clock()
	if now.After(sess.expiresAt) {
		delete(s.sessions, sessionID)
		return nil, false
	}
	sess.expiresAt = now.Add(s.ttl)
	return sess, true
}

// Delete removes a session outright.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

type memorySession struct {
	mu        sync.Mutex
	values    map[string]string
	expiresAt time.Time
}

func (m *memorySession) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *memorySession) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *memorySession) Pop(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if ok {
		delete(m.values, key)
	}
	return value, ok
}

func (m *memorySession) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}

// NewFake returns a standalone session for tests.
func NewFake() Session {
	return &memorySession{values: make(map[string]string)}
}
