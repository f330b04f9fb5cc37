package app

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// client is a synchronous request/response view of a gateway session.
// The gateway answers every request with exactly one frame, so a plain
// write-then-read works; unsolicited heartbeats in between are skipped.
type client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// dial connects to the gateway and consumes the welcome frame.
func dial(server string, timeout time.Duration) (*client, map[string]any, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(server, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", server, err)
	}

	c := &client{conn: conn, timeout: timeout}

	welcome, err := c.read()
	if err != nil {
		c.close()
		return nil, nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome["type"] != "welcome" {
		c.close()
		return nil, nil, fmt.Errorf("unexpected first frame: %v", welcome["type"])
	}
	return c, welcome, nil
}

// request writes one command and returns its response, skipping any
// heartbeat broadcasts that arrive in between.
func (c *client) request(msg any) (map[string]any, error) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	for {
		frame, err := c.read()
		if err != nil {
			return nil, err
		}
		if frame["type"] == "heartbeat" {
			continue
		}
		return frame, nil
	}
}

func (c *client) read() (map[string]any, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var frame map[string]any
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return frame, nil
}

// authenticate presents the shared secret.
func (c *client) authenticate(token string) error {
	resp, err := c.request(map[string]string{"cmd": "auth", "token": token})
	if err != nil {
		return err
	}
	if ok, _ := resp["success"].(bool); !ok {
		return fmt.Errorf("authentication failed: %v", resp["message"])
	}
	return nil
}

func (c *client) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}
