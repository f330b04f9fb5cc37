package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// Link states. Only one goroutine transitions state at a time; the link
// mutex is held for the whole of Connect, Execute and Disconnect so the
// serial endpoint never sees interleaved requests.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Link state machine events.
const (
	eventDial        = "event_dial"
	eventEstablished = "event_established"
	eventLost        = "event_lost"
)

// ErrNotConnected is returned by Execute when the controller is absent
// and an inline connect attempt failed. No bytes were written.
var ErrNotConnected = errors.New("controller not connected")

// StateEvent is published on every link state transition.
type StateEvent struct {
	From   string
	To     string
	Reason string
	At     time.Time
}

// Result is the outcome of one executed command.
type Result struct {
	// OK is true when the controller acknowledged the command.
	OK bool

	// Response is the raw reply line, or a short failure description.
	Response string
}

// Config holds the static link configuration.
type Config struct {
	Device  string
	Baud    int
	Timeout time.Duration

	// SettleDelay is the controller reset time after the port opens.
	SettleDelay time.Duration

	// DrainAttempts bounds the stale-byte drain after the settle delay.
	DrainAttempts int

	// DrainPause is the pause between drain attempts.
	DrainPause time.Duration

	// PingRetries bounds the reads awaiting the connect-probe reply.
	PingRetries int

	// PingInterval is the pause before each probe read.
	PingInterval time.Duration

	// WriteSettle is the pause between writing a command and reading its
	// reply line.
	WriteSettle time.Duration

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Open overrides the port opener. Defaults to OpenSerialPort.
	Open Opener
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.DrainAttempts == 0 {
		c.DrainAttempts = 5
	}
	if c.DrainPause == 0 {
		c.DrainPause = 100 * time.Millisecond
	}
	if c.PingRetries == 0 {
		c.PingRetries = 3
	}
	if c.PingInterval == 0 {
		c.PingInterval = 150 * time.Millisecond
	}
	if c.WriteSettle == 0 {
		c.WriteSettle = 50 * time.Millisecond
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Open == nil {
		c.Open = OpenSerialPort
	}
	return c
}

// Link owns the serial connection to the actuator controller. All access
// to the endpoint goes through Connect, Execute and Disconnect; the
// internal mutex guarantees at most one request is on the wire at a time.
type Link struct {
	cfg    Config
	logger log.Logger

	mu   sync.Mutex
	port Port

	machine *fsm.FSM

	// lastCommandAt holds the unix-nano timestamp of the last Execute
	// that reached the point of writing, successful or not. The watchdog
	// reads it without taking the link mutex.
	lastCommandAt atomic.Int64

	reconnecting atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once

	events chan StateEvent
}

// NewLink creates a Link. The link starts disconnected; call Connect or
// let the first Execute dial on demand.
func NewLink(cfg Config) *Link {
	l := &Link{
		cfg:    cfg.withDefaults(),
		logger: log.WithName("link"),
		done:   make(chan struct{}),
		events: make(chan StateEvent, 16),
	}

	l.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventLost, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
		},
		fsm.Callbacks{},
	)

	return l
}

// State returns the current link state.
func (l *Link) State() string {
	return l.machine.Current()
}

// Connected reports whether the controller answered the connect probe and
// the link has not failed since.
func (l *Link) Connected() bool {
	return l.machine.Current() == StateConnected
}

// LastCommandAt returns when a command last reached the wire. Zero when
// no command has been written yet.
func (l *Link) LastCommandAt() time.Time {
	n := l.lastCommandAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Events returns the state transition stream. The channel is buffered;
// transitions are dropped rather than blocking the link when the
// consumer falls behind.
func (l *Link) Events() <-chan StateEvent {
	return l.events
}

// Connect establishes the serial connection and probes the controller.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked()
}

// connectLocked dials with the link mutex held.
func (l *Link) connectLocked() error {
	if l.machine.Current() == StateConnected {
		return nil
	}

	l.transition(eventDial, "dialing")

	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
	}

	l.logger.Info("Connecting to controller", "device", l.cfg.Device, "baud", l.cfg.Baud)

	port, err := l.cfg.Open(l.cfg.Device, l.cfg.Baud, l.cfg.Timeout)
	if err != nil {
		l.transition(eventLost, "open failed")
		return fmt.Errorf("failed to open %s: %w", l.cfg.Device, err)
	}

	// Opening the port resets the board; wait for the firmware to boot.
	time.Sleep(l.cfg.SettleDelay)

	// The firmware may emit status lines on boot. Drain them so the
	// probe reply is the first line we read.
	for i := 0; i < l.cfg.DrainAttempts; i++ {
		if err := port.ResetInputBuffer(); err != nil {
			break
		}
		time.Sleep(l.cfg.DrainPause)
	}

	if err := l.probe(port); err != nil {
		_ = port.Close()
		l.transition(eventLost, "probe failed")
		return fmt.Errorf("controller on %s not responding: %w", l.cfg.Device, err)
	}

	l.port = port
	l.lastCommandAt.Store(time.Now().UnixNano())
	l.transition(eventEstablished, "probe acknowledged")
	l.logger.Info("Controller connected", "device", l.cfg.Device)
	return nil
}

// probe sends PING and waits for an acknowledgment. Any "OK:" line is
// accepted: a freshly reset board may answer with a pending status line.
func (l *Link) probe(port Port) error {
	if _, err := port.Write([]byte(CmdPing.Verb() + "\n")); err != nil {
		return err
	}

	for attempt := 1; attempt <= l.cfg.PingRetries; attempt++ {
		time.Sleep(l.cfg.PingInterval)

		line, err := readLine(port, l.cfg.Timeout)
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "OK:") {
			if line != CmdPing.expectedReply() {
				l.logger.Info("Controller answered probe with unexpected line, accepting", "line", line)
			}
			return nil
		}
		l.logger.Debug("Ignoring non-acknowledgment line during probe", "line", line, "attempt", attempt)
	}

	return fmt.Errorf("no reply after %d attempts", l.cfg.PingRetries)
}

// Execute writes one command and reads its acknowledgment. On a
// disconnected link it first attempts a single inline connect; if that
// fails the command fails with ErrNotConnected and nothing is written.
//
// A transport failure demotes the link to disconnected and starts the
// background reconnect loop. A wrong or missing reply line is a command
// failure only; the link stays connected.
func (l *Link) Execute(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.machine.Current() != StateConnected {
		if err := l.connectLocked(); err != nil {
			return Result{Response: "controller not connected"}, ErrNotConnected
		}
	}

	// The watchdog cares about attempted operation, not acknowledgment:
	// the timestamp advances as soon as the command reaches the wire.
	l.lastCommandAt.Store(time.Now().UnixNano())

	if _, err := l.port.Write([]byte(cmd.Verb() + "\n")); err != nil {
		l.failLocked("write failed", err)
		observeCommand(cmd, outcomeTransportError)
		return Result{Response: "serial write failed"}, fmt.Errorf("write %s: %w", cmd.Verb(), err)
	}

	time.Sleep(l.cfg.WriteSettle)

	line, err := readLine(l.port, l.cfg.Timeout)
	if err != nil {
		l.failLocked("read failed", err)
		observeCommand(cmd, outcomeTransportError)
		return Result{Response: "serial read failed"}, fmt.Errorf("read reply for %s: %w", cmd.Verb(), err)
	}

	switch {
	case line == cmd.expectedReply():
		observeCommand(cmd, outcomeOK)
		return Result{OK: true, Response: line}, nil
	case cmd.pingClass() && strings.HasPrefix(line, "OK:"):
		observeCommand(cmd, outcomeOK)
		return Result{OK: true, Response: line}, nil
	case line == "":
		observeCommand(cmd, outcomeNoReply)
		return Result{Response: "no response"}, nil
	default:
		l.logger.Warn("Unexpected reply", "command", cmd.Verb(), "line", line)
		observeCommand(cmd, outcomeMismatch)
		return Result{Response: line}, nil
	}
}

// Disconnect sends a best-effort STOP, closes the endpoint and forces the
// link down. It never fails and is safe to call repeatedly.
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		// The actuator must be stopped before the endpoint goes away.
		_, _ = l.port.Write([]byte(CmdStop.Verb() + "\n"))
		time.Sleep(l.cfg.WriteSettle)
		_ = l.port.Close()
		l.port = nil
	}

	if l.machine.Current() != StateDisconnected {
		l.transition(eventLost, "disconnect requested")
	}
	l.logger.Info("Controller disconnected", "device", l.cfg.Device)
}

// Close shuts the link down permanently: the reconnect loop stops and
// the endpoint is closed after a final best-effort STOP.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.Disconnect()
}

// failLocked demotes the link after a transport failure and kicks off the
// bounded background reconnect loop.
func (l *Link) failLocked(reason string, err error) {
	l.logger.Error(err, "Serial transport failure", "reason", reason, "device", l.cfg.Device)

	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
	}
	l.transition(eventLost, reason)
	l.scheduleReconnect()
}

// scheduleReconnect starts the background reconnect loop unless one is
// already running. The loop is bounded; when it gives up the link stays
// disconnected until the next foreground Execute or a hotplug event.
func (l *Link) scheduleReconnect() {
	if !l.reconnecting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer l.reconnecting.Store(false)

		for attempt := 1; attempt <= l.cfg.MaxReconnectAttempts; attempt++ {
			select {
			case <-l.done:
				return
			case <-time.After(l.cfg.ReconnectDelay):
			}

			if l.Connected() {
				return
			}

			l.logger.Info("Reconnection attempt", "attempt", attempt, "max", l.cfg.MaxReconnectAttempts)
			observeReconnectAttempt()

			if err := l.Connect(); err == nil {
				l.logger.Info("Reconnected to controller", "device", l.cfg.Device)
				return
			}
		}

		l.logger.Warn("Max reconnection attempts reached, giving up", "device", l.cfg.Device)
	}()
}

// transition fires a state machine event and publishes the change. Must
// be called with the link mutex held.
func (l *Link) transition(event, reason string) {
	from := l.machine.Current()
	if err := l.machine.Event(context.Background(), event); err != nil {
		l.logger.Debug("State transition rejected", "event", event, "from", from, "err", err)
		return
	}
	to := l.machine.Current()
	observeLinkState(to)

	ev := StateEvent{From: from, To: to, Reason: reason, At: time.Now()}
	select {
	case l.events <- ev:
	default:
		// Consumer fell behind; dropping a transition is preferable to
		// stalling the link.
	}
}

// readLine reads one LF-terminated line, trimming the terminator and any
// CR. A quiet wire yields an empty line once the timeout elapses.
func readLine(port Port, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 1)

	for {
		n, err := port.Read(chunk)
		if err != nil {
			return "", err
		}
		if n > 0 {
			if chunk[0] == '\n' {
				return strings.TrimRight(string(buf), "\r"), nil
			}
			buf = append(buf, chunk[0])
		}
		if time.Now().After(deadline) {
			return strings.TrimSpace(string(buf)), nil
		}
	}
}
