package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDispatcher answers auth against the registry and pongs
// everything else.
type scriptedDispatcher struct {
	reg *Registry
}

func (d *scriptedDispatcher) Commands() []string {
	return []string{"auth", "ping"}
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, sess *Session, data []byte) any {
	var req struct {
		Cmd   string `json:"cmd"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return map[string]any{"type": "error", "message": "bad json"}
	}
	if req.Cmd == "auth" {
		ok := d.reg.Authenticate(sess, req.Token)
		return map[string]any{"type": "auth", "success": ok}
	}
	return map[string]any{"type": "pong"}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func dialWithRetry(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", url, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerSessionLifecycle(t *testing.T) {
	reg := NewRegistry("secret")
	cfg := ServerConfig{
		Addr:              freeAddr(t),
		Path:              "/ws",
		HeartbeatInterval: 50 * time.Millisecond,
		WriteTimeout:      time.Second,
		LinkConnected:     func() bool { return true },
	}
	srv := NewServer(cfg, reg, &scriptedDispatcher{reg: reg})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	client := dialWithRetry(t, "ws://"+cfg.Addr+"/ws")
	defer func() { _ = client.Close() }()

	// First frame is the welcome.
	var welcome map[string]any
	require.NoError(t, readJSON(t, client, &welcome))
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, true, welcome["arduino_connected"])
	assert.Contains(t, welcome["commands"], "auth")

	// One response per request, in order.
	require.NoError(t, client.WriteJSON(map[string]string{"cmd": "ping"}))
	var pong map[string]any
	require.NoError(t, readJSON(t, client, &pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, client.WriteJSON(map[string]string{"cmd": "auth", "token": "secret"}))
	var auth map[string]any
	require.NoError(t, readJSON(t, client, &auth))
	assert.Equal(t, "auth", auth["type"])
	assert.Equal(t, true, auth["success"])

	// Heartbeats flow to the authenticated session.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var frame map[string]any
		require.NoError(t, readJSON(t, client, &frame))
		if frame["type"] == "heartbeat" {
			assert.Equal(t, true, frame["arduino_connected"])
			assert.NotEmpty(t, frame["timestamp"])
			break
		}
		require.True(t, time.Now().Before(deadline), "no heartbeat received")
	}

	// Shutdown closes the session with going-away.
	cancel()
	sawClose := false
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := client.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
				sawClose = true
			}
			break
		}
	}
	assert.True(t, sawClose, "expected a going-away close frame")

	require.NoError(t, <-runErr)
	assert.Equal(t, 0, reg.ConnectedCount())
}

func TestServerConcurrentSessions(t *testing.T) {
	reg := NewRegistry("secret")
	cfg := ServerConfig{
		Addr:              freeAddr(t),
		Path:              "/ws",
		HeartbeatInterval: time.Minute,
		WriteTimeout:      time.Second,
		LinkConnected:     func() bool { return true },
	}
	srv := NewServer(cfg, reg, &scriptedDispatcher{reg: reg})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	const clients = 4
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func() {
			conn := dialWithRetry(t, "ws://"+cfg.Addr+"/ws")
			defer func() { _ = conn.Close() }()

			var welcome map[string]any
			if err := readJSON(t, conn, &welcome); err != nil {
				errs <- err
				return
			}

			for j := 0; j < 10; j++ {
				if err := conn.WriteJSON(map[string]string{"cmd": "ping"}); err != nil {
					errs <- err
					return
				}
				var pong map[string]any
				if err := readJSON(t, conn, &pong); err != nil {
					errs <- err
					return
				}
				if pong["type"] != "pong" {
					errs <- fmt.Errorf("unexpected frame %v", pong)
					return
				}
			}
			errs <- nil
		}()
	}

	for i := 0; i < clients; i++ {
		require.NoError(t, <-errs)
	}
}

func TestServerHeartbeatSkipsUnauthenticated(t *testing.T) {
	reg := NewRegistry("secret")
	cfg := ServerConfig{
		Addr:              freeAddr(t),
		Path:              "/ws",
		HeartbeatInterval: 20 * time.Millisecond,
		WriteTimeout:      time.Second,
		LinkConnected:     func() bool { return false },
	}
	srv := NewServer(cfg, reg, &scriptedDispatcher{reg: reg})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	client := dialWithRetry(t, "ws://"+cfg.Addr+"/ws")
	defer func() { _ = client.Close() }()

	var welcome map[string]any
	require.NoError(t, readJSON(t, client, &welcome))
	assert.Equal(t, false, welcome["arduino_connected"])

	// No heartbeat should arrive before authentication.
	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame map[string]any
	assert.Error(t, client.ReadJSON(&frame), "unauthenticated session received %v", frame)
}
