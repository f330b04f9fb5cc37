package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// connPair is an upgraded server-side connection and its client peer.
type connPair struct {
	server *websocket.Conn
	client *websocket.Conn
}

// newConnPair dials a throwaway upgrade endpoint and returns both ends.
func newConnPair(t *testing.T) connPair {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	server := <-connCh
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return connPair{server: server, client: client}
}

// newTestSession mints a registered-ready session over a live pair.
func newTestSession(t *testing.T, id string) (*Session, *websocket.Conn) {
	t.Helper()
	pair := newConnPair(t)
	return NewSession(id, pair.server, time.Second), pair.client
}

// readJSON reads one frame from the client end with a bounded wait.
func readJSON(t *testing.T, conn *websocket.Conn, v any) error {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn.ReadJSON(v)
}
