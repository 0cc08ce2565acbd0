// Package session provides the in-memory registry of continuous-listening
// (VAD) sessions.
//
// A session is created when a client requests continuous-listening mode and
// destroyed when the client cancels or its connection drops. Sessions are
// process-local and never persisted; there is exactly one live session per
// connection at a time.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get and Touch for unknown session identifiers.
var ErrNotFound = errors.New("session: not found")

// Session is the per-connection continuous-listening state.
type Session struct {
	// ID is the opaque session identifier handed to the client.
	ID string

	// ConnID identifies the owning gateway connection.
	ConnID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActivity is the time of the most recent audio chunk.
	LastActivity time.Time

	// Speaking is the most recent speech/silence verdict.
	Speaking bool
}

// Registry is a process-wide map of live sessions. All methods are safe for
// concurrent use; a single mutex serialises access since sessions are small
// and short-lived.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session owned by connID and returns it. The
// identifier is a fresh UUID, never reused within the process lifetime.
func (r *Registry) Create(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &Session{
		ID:           uuid.NewString(),
		ConnID:       connID,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[s.ID] = s
	return s
}

// Get returns a copy of the session with the given identifier, or
// [ErrNotFound]. A copy is returned so callers never share mutable state
// with the registry.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// Touch updates the session's last-activity timestamp and speech flag.
// Returns [ErrNotFound] for unknown identifiers.
func (r *Registry) Touch(id string, speaking bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = r.now()
	s.Speaking = speaking
	return nil
}

// Destroy removes the session. Destroying an unknown identifier is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// DestroyOwned removes every session owned by connID and returns how many
// were removed. Called when a gateway connection closes.
func (r *Registry) DestroyOwned(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.ConnID == connID {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
