package gateway

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/drivegate-io/drivegate/internal/gateway/device"
	"github.com/drivegate-io/drivegate/internal/gateway/router"
	"github.com/drivegate-io/drivegate/internal/gateway/session"
	"github.com/drivegate-io/drivegate/internal/gateway/telemetry"
	"github.com/drivegate-io/drivegate/pkg/log"
	"github.com/drivegate-io/drivegate/pkg/mqtt"
	"github.com/drivegate-io/drivegate/pkg/mqtt/topic"
)

// Gateway owns the running components of one gateway process.
type Gateway struct {
	cfg      *Config
	link     *device.Link
	registry *session.Registry
	server   *session.Server
	watchdog *device.Watchdog
	logger   log.Logger
}

// New wires a gateway from resolved configuration. Nothing is started
// until Run.
func New(cfg *Config) *Gateway {
	link := device.NewLink(device.Config{
		Device:               cfg.Serial.Device,
		Baud:                 cfg.Serial.Baud,
		Timeout:              cfg.Serial.Timeout,
		SettleDelay:          cfg.Serial.SettleDelay,
		ReconnectDelay:       cfg.Serial.ReconnectDelay,
		MaxReconnectAttempts: cfg.Serial.MaxReconnectAttempts,
	})

	registry := session.NewRegistry(cfg.Server.AuthToken)
	rt := router.New(link, registry)

	server := session.NewServer(session.ServerConfig{
		Addr:              cfg.Server.Addr,
		Path:              cfg.Server.Path,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		WriteTimeout:      cfg.Server.WriteTimeout,
		LinkConnected:     link.Connected,
	}, registry, rt)

	return &Gateway{
		cfg:      cfg,
		link:     link,
		registry: registry,
		server:   server,
		watchdog: device.NewWatchdog(link, cfg.Failsafe.Timeout, cfg.Failsafe.Period),
		logger:   log.WithName("gateway"),
	}
}

// Run starts every component and blocks until ctx is canceled or a
// component fails. On the way out the actuator is stopped and the link
// closed after the session layer has said goodbye.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("Gateway starting", "device", g.cfg.Serial.Device, "ws", g.cfg.Server.Addr)

	// The controller may be absent at boot; sessions still get served and
	// the first command dials on demand.
	if err := g.link.Connect(); err != nil {
		g.logger.Warn("Controller not available at startup, will retry on demand", "err", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return g.watchdog.Run(ctx) })
	group.Go(func() error { return g.server.Run(ctx) })
	group.Go(func() error { return g.runHealthServer(ctx) })

	if g.cfg.Serial.WatchHotplug {
		watcher := device.NewHotplugWatcher(g.link, g.cfg.Serial.Device)
		group.Go(func() error { return watcher.Run(ctx) })
	}

	if err := g.startTelemetry(ctx, group); err != nil {
		return err
	}

	err := group.Wait()

	// Final STOP and port close happen after the session layer is done;
	// an in-flight command cannot race the teardown.
	g.link.Close()
	g.logger.Info("Gateway stopped")
	return err
}

// startTelemetry wires the MQTT publisher when a broker is configured.
// Without one, the link's event stream still needs a consumer so state
// transitions are not silently dropped once the buffer fills.
func (g *Gateway) startTelemetry(ctx context.Context, group *errgroup.Group) error {
	if !g.cfg.Mqtt.Enabled() {
		group.Go(func() error { return g.drainLinkEvents(ctx) })
		return nil
	}

	client, err := mqtt.NewClient(g.cfg.Mqtt.ToClientConfig())
	if err != nil {
		return fmt.Errorf("telemetry client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("telemetry connect: %w", err)
	}

	pub := telemetry.NewPublisher(
		client,
		topic.NewBuilder(g.cfg.Mqtt.TopicRoot),
		g.cfg.GatewayID(),
		g.link,
		g.cfg.Server.HeartbeatInterval,
	)

	group.Go(func() error {
		defer client.Disconnect(context.Background())
		return pub.Run(ctx, g.link.Events())
	})
	return nil
}

// drainLinkEvents logs state transitions when telemetry is off.
func (g *Gateway) drainLinkEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-g.link.Events():
			g.logger.Info("Link state changed", "from", ev.From, "to", ev.To, "reason", ev.Reason)
		}
	}
}
