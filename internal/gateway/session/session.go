// Package session holds the WebSocket session layer: the per-client
// connection wrapper, the registry of connected and authenticated
// sessions, and the server that accepts and serves them.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one client connection. Writes to the underlying connection
// are serialized through an internal mutex; gorilla connections do not
// tolerate concurrent writers.
type Session struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	writeTimeout time.Duration

	authed    atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession wraps an upgraded connection. The id must be unique among
// live sessions; the server derives it from a monotonic counter.
func NewSession(id string, conn *websocket.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
	}
}

// ID returns the server-assigned session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the client's network address, for logging.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Authenticated reports whether this session presented the shared secret.
func (s *Session) Authenticated() bool {
	return s.authed.Load()
}

func (s *Session) setAuthenticated() {
	s.authed.Store(true)
}

// Send marshals v as JSON and writes it as one text frame.
func (s *Session) Send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(v)
}

// Close sends a close frame with the given code and reason, then closes
// the connection. Safe to call repeatedly and from multiple failure
// paths.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}
