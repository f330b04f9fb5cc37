package session

import (
	"crypto/subtle"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// Registry tracks connected sessions and the subset that authenticated.
// Its lock is never held across a device operation; handlers read a
// snapshot and release it before touching the serial side.
type Registry struct {
	token  string
	logger log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry gated by the given shared secret.
func NewRegistry(token string) *Registry {
	return &Registry{
		token:    token,
		logger:   log.WithName("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Register adds a session to the registry.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	connected := len(r.sessions)
	r.mu.Unlock()

	observeSessionCounts(connected, r.authenticatedCount())
	r.logger.Info("Client connected", "session", s.id, "remote", s.remoteAddr, "connected", connected)
}

// Remove drops a session. It is idempotent; every failure path may call
// it without coordination.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	_, present := r.sessions[s.id]
	delete(r.sessions, s.id)
	connected := len(r.sessions)
	r.mu.Unlock()

	if !present {
		return
	}
	observeSessionCounts(connected, r.authenticatedCount())
	r.logger.Info("Client removed", "session", s.id, "remote", s.remoteAddr, "connected", connected)
}

// Authenticate checks the supplied token against the shared secret and
// marks the session authenticated on match. There is no lockout or
// backoff on failure.
func (r *Registry) Authenticate(s *Session, token string) bool {
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.token)) != 1 {
		r.logger.Warn("Authentication failed", "session", s.id, "remote", s.remoteAddr)
		return false
	}
	s.setAuthenticated()
	r.logger.Info("Client authenticated", "session", s.id, "remote", s.remoteAddr)
	observeSessionCounts(r.ConnectedCount(), r.authenticatedCount())
	return true
}

// ConnectedCount returns the number of connected sessions.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AuthenticatedCount returns the number of authenticated sessions.
func (r *Registry) AuthenticatedCount() int {
	return r.authenticatedCount()
}

func (r *Registry) authenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Authenticated() {
			n++
		}
	}
	return n
}

// Broadcast fans a message out to every session in the target set. A
// session that fails to accept the write is closed and removed; one bad
// session never blocks delivery to the rest.
func (r *Registry) Broadcast(v any, onlyAuthenticated bool) {
	for _, s := range r.snapshot() {
		if onlyAuthenticated && !s.Authenticated() {
			continue
		}
		if err := s.Send(v); err != nil {
			r.logger.Warn("Broadcast delivery failed, dropping session", "session", s.id, "err", err)
			observeBroadcastFailure()
			s.Close(websocket.CloseInternalServerErr, "write failed")
			r.Remove(s)
		}
	}
}

// CloseAll closes every session with the given code and empties the
// registry. Used on gateway shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	sessions := r.snapshot()

	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(code, reason)
	}
	observeSessionCounts(0, 0)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
