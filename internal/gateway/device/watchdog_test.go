package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubLink satisfies commandLink and records executed commands. Each
// Execute advances the command timestamp, like the real link.
type stubLink struct {
	mu        sync.Mutex
	connected bool
	lastAt    time.Time
	executed  []Command
	err       error
}

func (s *stubLink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubLink) LastCommandAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAt
}

func (s *stubLink) Execute(ctx context.Context, cmd Command) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, cmd)
	if s.err != nil {
		return Result{Response: "serial write failed"}, s.err
	}
	s.lastAt = time.Now()
	return Result{OK: true, Response: cmd.expectedReply()}, nil
}

func (s *stubLink) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt = time.Now()
}

func (s *stubLink) commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.executed...)
}

func TestWatchdogStopsIdleActuator(t *testing.T) {
	link := &stubLink{connected: true, lastAt: time.Now().Add(-time.Second)}
	wd := NewWatchdog(link, 20*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = wd.Run(ctx)

	cmds := link.commands()
	assert.NotEmpty(t, cmds)
	for _, c := range cmds {
		assert.Equal(t, CmdStop, c)
	}
	// The stop advanced the timestamp, so one idle period yields roughly
	// one stop, not one per tick.
	assert.LessOrEqual(t, len(cmds), 6)
}

func TestWatchdogQuietWhileCommandsFlow(t *testing.T) {
	link := &stubLink{connected: true}
	link.touch()
	wd := NewWatchdog(link, 50*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for i := 0; i < 10; i++ {
			time.Sleep(10 * time.Millisecond)
			link.touch()
		}
		cancel()
	}()
	_ = wd.Run(ctx)

	assert.Empty(t, link.commands())
}

func TestWatchdogIgnoresDisconnectedLink(t *testing.T) {
	link := &stubLink{connected: false, lastAt: time.Now().Add(-time.Hour)}
	wd := NewWatchdog(link, 10*time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = wd.Run(ctx)

	assert.Empty(t, link.commands())
}

func TestWatchdogSkipsBeforeFirstCommand(t *testing.T) {
	link := &stubLink{connected: true}
	wd := NewWatchdog(link, 10*time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = wd.Run(ctx)

	assert.Empty(t, link.commands())
}
