// Package router parses client messages and routes them to command
// handlers. Every inbound message yields exactly one well-formed
// response frame; handler failures are reported, never raised.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/drivegate-io/drivegate/internal/gateway/device"
	"github.com/drivegate-io/drivegate/internal/gateway/session"
	"github.com/drivegate-io/drivegate/pkg/log"
)

// commandLink is the device surface the router needs.
type commandLink interface {
	Connected() bool
	Execute(ctx context.Context, cmd device.Command) (device.Result, error)
}

// Router dispatches parsed commands. Gated handlers (move, raw) check
// session authentication before any byte can reach the controller;
// status and ping are open so a client can always probe liveness.
type Router struct {
	link     commandLink
	registry *session.Registry
	logger   log.Logger
}

// New creates a Router over the given link and session registry.
func New(link commandLink, registry *session.Registry) *Router {
	return &Router{
		link:     link,
		registry: registry,
		logger:   log.WithName("router"),
	}
}

// Commands lists the accepted command names.
func (r *Router) Commands() []string {
	return []string{"auth", "move", "status", "ping", "raw"}
}

// Dispatch parses one client message and runs its handler. Malformed
// JSON and unknown commands come back as error frames; nothing a client
// sends can produce more or less than one response.
func (r *Router) Dispatch(ctx context.Context, sess *session.Session, data []byte) any {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		r.logger.Warn("Malformed message", "session", sess.ID(), "err", err)
		return errorf("Invalid JSON: %v", err)
	}

	cmd := strings.ToLower(strings.TrimSpace(req.Cmd))
	if cmd == "" {
		return errorf("Missing 'cmd' field")
	}

	switch cmd {
	case "auth":
		return r.handleAuth(sess, req)
	case "move":
		return r.handleMove(ctx, sess, req)
	case "status":
		return r.handleStatus(sess)
	case "ping":
		return pongResponse{Type: "pong", Timestamp: timestamp()}
	case "raw":
		return r.handleRaw(ctx, sess, req)
	default:
		return errorf("Unknown command: %s. Valid commands: %v", cmd, r.Commands())
	}
}

func (r *Router) handleAuth(sess *session.Session, req request) authResponse {
	if r.registry.Authenticate(sess, req.Token) {
		return authResponse{Type: "auth", Success: true, Message: "Authenticated successfully"}
	}
	return authResponse{Type: "auth", Success: false, Message: "Invalid token"}
}

func (r *Router) handleMove(ctx context.Context, sess *session.Session, req request) any {
	if !sess.Authenticated() {
		return errorf("Not authenticated")
	}

	if strings.TrimSpace(req.Dir) == "" {
		return errorf("Missing 'dir' parameter")
	}

	cmd, err := device.ParseDirection(req.Dir)
	if err != nil {
		return errorf("Invalid direction: %s. Valid: %v", req.Dir, device.ValidDirections())
	}

	res, err := r.link.Execute(ctx, cmd)
	if err != nil {
		r.logger.Warn("Move failed", "session", sess.ID(), "direction", cmd.Verb(), "err", err)
	}

	return moveResponse{
		Type:      "move",
		Success:   res.OK,
		Direction: strings.ToLower(cmd.Verb()),
		Response:  res.Response,
		Timestamp: timestamp(),
	}
}

func (r *Router) handleStatus(sess *session.Session) statusResponse {
	return statusResponse{
		Type:                 "status",
		ArduinoConnected:     r.link.Connected(),
		Authenticated:        sess.Authenticated(),
		ClientsConnected:     r.registry.ConnectedCount(),
		ClientsAuthenticated: r.registry.AuthenticatedCount(),
		Timestamp:            timestamp(),
	}
}

func (r *Router) handleRaw(ctx context.Context, sess *session.Session, req request) any {
	if !sess.Authenticated() {
		return errorf("Not authenticated")
	}

	if strings.TrimSpace(req.Command) == "" {
		return errorf("Missing 'command' parameter")
	}

	cmd, err := device.NewRawCommand(req.Command)
	if err != nil {
		return errorf("%v", err)
	}

	res, err := r.link.Execute(ctx, cmd)
	if err != nil {
		r.logger.Warn("Raw command failed", "session", sess.ID(), "command", cmd.Verb(), "err", err)
	}

	return rawResponse{
		Type:      "raw",
		Success:   res.OK,
		Command:   cmd.Verb(),
		Response:  res.Response,
		Timestamp: timestamp(),
	}
}
