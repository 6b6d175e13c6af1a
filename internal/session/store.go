// Package session keeps the in-memory registry of MCP protocol sessions.
// Sessions are process-lifetime state: nothing is persisted, and expiry
// is enforced by a passive sweep on lookup rather than a background
// timer.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a session survives after creation.
const DefaultTTL = time.Hour

// DefaultProtocolVersion is assumed when a client does not negotiate one.
const DefaultProtocolVersion = "2024-11-05"

// Session tracks one MCP client's handshake state.
type Session struct {
	ID              string
	ProtocolVersion string
	CreatedAt       time.Time
	Initialized     bool
}

// Store is the only cross-request shared state in the gateway; all
// access goes through its mutex.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Create registers a session under the given id, generating one when
// empty. An existing session under the same id is replaced with a fresh
// creation timestamp.
func (s *Store) Create(id string) *Session {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:              id,
		ProtocolVersion: DefaultProtocolVersion,
		CreatedAt:       time.Now().UTC(),
	}
	s.sessions[id] = sess
	return copySession(sess)
}

// Get sweeps expired sessions, then returns the session or nil.
func (s *Store) Get(id string) *Session {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	return copySession(s.sessions[id])
}

// Validate reports whether a live session exists for the id.
func (s *Store) Validate(id string) bool {
	return s.Get(id) != nil
}

// MarkInitialized flags the session as having completed the initialize
// handshake and records the negotiated protocol version.
func (s *Store) MarkInitialized(id, protocolVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.Initialized = true
	if protocolVersion != "" {
		sess.ProtocolVersion = protocolVersion
	}
}

// Delete removes a session, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of live sessions (after a sweep).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	return len(s.sessions)
}

func (s *Store) sweepLocked() {
	cutoff := time.Now().UTC().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func copySession(sess *Session) *Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	return &cp
}
