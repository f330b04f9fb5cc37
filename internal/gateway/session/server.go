package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// serverVersion is advertised in the welcome frame.
const serverVersion = "1.0.0"

// Dispatcher routes one inbound client message to its handler and
// returns the response frame to write back.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *Session, data []byte) any

	// Commands lists the accepted command names, for the welcome frame.
	Commands() []string
}

// ServerConfig holds the WebSocket server configuration.
type ServerConfig struct {
	Addr string
	Path string

	// HeartbeatInterval is the period of the status broadcast to
	// authenticated sessions.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds each frame write to a client.
	WriteTimeout time.Duration

	// LinkConnected reports controller connectivity for the welcome and
	// heartbeat frames.
	LinkConnected func() bool
}

// Server accepts WebSocket sessions and serves them. Each session runs
// a read loop that answers one request at a time: the next message is
// not read until the previous response has been written back.
type Server struct {
	cfg        ServerConfig
	registry   *Registry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     log.Logger

	runCtx    context.Context
	idCounter atomic.Uint64
}

// welcomeFrame is sent once when a client connects.
type welcomeFrame struct {
	Type             string   `json:"type"`
	Message          string   `json:"message"`
	Version          string   `json:"version"`
	Commands         []string `json:"commands"`
	ArduinoConnected bool     `json:"arduino_connected"`
}

// heartbeatFrame is broadcast periodically to authenticated sessions.
type heartbeatFrame struct {
	Type             string `json:"type"`
	ArduinoConnected bool   `json:"arduino_connected"`
	Timestamp        string `json:"timestamp"`
}

// NewServer creates the session server.
func NewServer(cfg ServerConfig, registry *Registry, dispatcher Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithName("wsserver"),
	}
}

// Run serves until ctx is canceled, then closes every session with
// going-away and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	s.runCtx = ctx

	router := mux.NewRouter()
	router.HandleFunc(s.cfg.Path, s.handleSocket)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket server listening", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("websocket server: %w", err)

		case <-heartbeat.C:
			s.registry.Broadcast(heartbeatFrame{
				Type:             "heartbeat",
				ArduinoConnected: s.cfg.LinkConnected(),
				Timestamp:        time.Now().Format(time.RFC3339),
			}, true)

		case <-ctx.Done():
			s.registry.CloseAll(websocket.CloseGoingAway, "Server shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("WebSocket listener shutdown", "err", err)
			}
			<-errCh
			return nil
		}
	}
}

// handleSocket upgrades one HTTP request and serves the session until
// the client goes away or the server shuts down.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Connection upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	id := fmt.Sprintf("sess-%d-%d", time.Now().UnixMilli(), s.idCounter.Add(1))
	sess := NewSession(id, conn, s.cfg.WriteTimeout)

	s.registry.Register(sess)
	defer func() {
		s.registry.Remove(sess)
		sess.Close(websocket.CloseNormalClosure, "")
	}()

	welcome := welcomeFrame{
		Type:             "welcome",
		Message:          "Drivegate control server",
		Version:          serverVersion,
		Commands:         s.dispatcher.Commands(),
		ArduinoConnected: s.cfg.LinkConnected(),
	}
	if err := sess.Send(welcome); err != nil {
		s.logger.Warn("Welcome frame write failed", "session", id, "err", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Client connection lost", "session", id, "err", err)
			}
			return
		}

		resp := s.dispatcher.Dispatch(s.runCtx, sess, data)
		observeMessageHandled()

		if err := sess.Send(resp); err != nil {
			s.logger.Warn("Response write failed", "session", id, "err", err)
			return
		}
	}
}
