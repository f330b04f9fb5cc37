package device

import (
	"context"
	"time"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// commandLink is the slice of Link the watchdog needs.
type commandLink interface {
	Connected() bool
	LastCommandAt() time.Time
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// Watchdog forces a stop when command flow ceases. It runs independently
// of the session layer: a wedged network side can never suppress it, and
// its STOP serializes through the link mutex like any other command.
type Watchdog struct {
	link    commandLink
	timeout time.Duration
	period  time.Duration
	logger  log.Logger
}

// NewWatchdog creates a watchdog that stops the actuator when the link
// has been idle for longer than timeout, checking every period.
func NewWatchdog(link commandLink, timeout, period time.Duration) *Watchdog {
	return &Watchdog{
		link:    link,
		timeout: timeout,
		period:  period,
		logger:  log.WithName("failsafe"),
	}
}

// Run ticks until the context is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	w.logger.Info("Failsafe watchdog running", "timeout", w.timeout, "period", w.period)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Failsafe watchdog stopped")
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check issues a STOP when the link is connected and idle past the
// deadline. A failed stop is logged and retried on the next tick; there
// is no higher authority to escalate to.
func (w *Watchdog) check(ctx context.Context) {
	if !w.link.Connected() {
		return
	}

	last := w.link.LastCommandAt()
	if last.IsZero() {
		return
	}

	idle := time.Since(last)
	if idle <= w.timeout {
		return
	}

	w.logger.Warn("Command flow ceased, forcing stop", "idle", idle)
	observeFailsafeStop()

	res, err := w.link.Execute(ctx, CmdStop)
	if err != nil {
		w.logger.Error(err, "Failsafe stop failed")
		return
	}
	if !res.OK {
		w.logger.Warn("Failsafe stop not acknowledged", "response", res.Response)
	}
}
