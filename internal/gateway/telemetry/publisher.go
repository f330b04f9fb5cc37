// Package telemetry mirrors gateway state onto an MQTT broker for fleet
// monitoring. It sits outside the control path: a slow or absent broker
// never delays a command, and publish failures are logged and dropped.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/drivegate-io/drivegate/internal/gateway/device"
	"github.com/drivegate-io/drivegate/pkg/log"
	"github.com/drivegate-io/drivegate/pkg/mqtt"
	"github.com/drivegate-io/drivegate/pkg/mqtt/topic"
)

// linkStatus is the state view the heartbeat reports.
type linkStatus interface {
	Connected() bool
	State() string
}

// Publisher forwards link state transitions and periodic heartbeats to
// the broker.
type Publisher struct {
	client    mqtt.Client
	topics    *topic.Builder
	gatewayID string
	link      linkStatus
	interval  time.Duration
	logger    log.Logger
}

// statePayload is the wire form of a link state transition.
type statePayload struct {
	GatewayID string `json:"gateway_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// heartbeatPayload is the wire form of the periodic heartbeat.
type heartbeatPayload struct {
	GatewayID     string `json:"gateway_id"`
	LinkState     string `json:"link_state"`
	LinkConnected bool   `json:"link_connected"`
	Timestamp     string `json:"timestamp"`
}

// NewPublisher creates a telemetry publisher. The client is expected to
// be started by the caller.
func NewPublisher(client mqtt.Client, topics *topic.Builder, gatewayID string, link linkStatus, interval time.Duration) *Publisher {
	return &Publisher{
		client:    client,
		topics:    topics,
		gatewayID: gatewayID,
		link:      link,
		interval:  interval,
		logger:    log.WithName("telemetry"),
	}
}

// Run consumes link state events and emits heartbeats until ctx is
// canceled. The events channel is owned by the link; Run drains it so
// the link never blocks publishing transitions.
func (p *Publisher) Run(ctx context.Context, events <-chan device.StateEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Telemetry publisher running", "gatewayID", p.gatewayID, "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Telemetry publisher stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.publishState(ctx, ev)

		case <-ticker.C:
			p.publishHeartbeat(ctx)
		}
	}
}

func (p *Publisher) publishState(ctx context.Context, ev device.StateEvent) {
	payload, err := json.Marshal(statePayload{
		GatewayID: p.gatewayID,
		From:      ev.From,
		To:        ev.To,
		Reason:    ev.Reason,
		Timestamp: ev.At.Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Error(err, "Failed to marshal link state payload")
		return
	}

	if err := p.client.Publish(ctx, p.topics.LinkState(p.gatewayID), 1, true, payload); err != nil {
		p.logger.Warn("Link state publish failed", "to", ev.To, "err", err)
	}
}

func (p *Publisher) publishHeartbeat(ctx context.Context) {
	payload, err := json.Marshal(heartbeatPayload{
		GatewayID:     p.gatewayID,
		LinkState:     p.link.State(),
		LinkConnected: p.link.Connected(),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Error(err, "Failed to marshal heartbeat payload")
		return
	}

	if err := p.client.Publish(ctx, p.topics.Heartbeat(p.gatewayID), 0, false, payload); err != nil {
		p.logger.Warn("Heartbeat publish failed", "err", err)
	}
}
