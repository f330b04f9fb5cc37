package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOpener hands out a port and records how often it was asked.
type countingOpener struct {
	mu    sync.Mutex
	calls int
	port  Port
	err   error
}

func (o *countingOpener) open(string, int, time.Duration) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}

func (o *countingOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *countingOpener) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func TestLinkConnect(t *testing.T) {
	port := &fakePort{}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()

	require.NoError(t, link.Connect())
	assert.True(t, link.Connected())
	assert.Equal(t, StateConnected, link.State())
	assert.False(t, link.LastCommandAt().IsZero())

	// Connecting again is a no-op.
	require.NoError(t, link.Connect())

	ev := <-link.Events()
	assert.Equal(t, StateDisconnected, ev.From)
	assert.Equal(t, StateConnecting, ev.To)
	ev = <-link.Events()
	assert.Equal(t, StateConnecting, ev.From)
	assert.Equal(t, StateConnected, ev.To)
}

func TestLinkConnectProbeAcceptsAnyAck(t *testing.T) {
	port := &fakePort{replyFunc: func(verb string) string {
		return "OK:READY"
	}}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()

	require.NoError(t, link.Connect())
	assert.True(t, link.Connected())
}

func TestLinkConnectProbeFailure(t *testing.T) {
	port := &fakePort{replyFunc: func(verb string) string {
		return ""
	}}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()

	err := link.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not responding")
	assert.False(t, link.Connected())
	assert.True(t, port.closed.Load())
}

func TestLinkConnectOpenFailure(t *testing.T) {
	opener := &countingOpener{err: errors.New("no such device")}
	link := NewLink(testConfig(opener.open))
	defer link.Close()

	require.Error(t, link.Connect())
	assert.False(t, link.Connected())
}

func TestExecuteAcknowledged(t *testing.T) {
	port := &fakePort{}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()
	require.NoError(t, link.Connect())

	before := link.LastCommandAt()
	time.Sleep(2 * time.Millisecond)

	res, err := link.Execute(context.Background(), CmdForward)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "OK:FORWARD", res.Response)
	assert.True(t, link.LastCommandAt().After(before))

	lines := port.writtenLines()
	assert.Equal(t, []string{"PING", "FORWARD"}, lines)
}

func TestExecuteMismatchKeepsLink(t *testing.T) {
	port := &fakePort{replyFunc: func(verb string) string {
		if verb == "PING" {
			return "OK:PING"
		}
		return "ERR:BUSY"
	}}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()
	require.NoError(t, link.Connect())

	res, err := link.Execute(context.Background(), CmdLeft)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "ERR:BUSY", res.Response)
	assert.True(t, link.Connected())
}

func TestExecuteNoReply(t *testing.T) {
	port := &fakePort{replyFunc: func(verb string) string {
		if verb == "PING" {
			return "OK:PING"
		}
		return ""
	}}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()
	require.NoError(t, link.Connect())

	res, err := link.Execute(context.Background(), CmdRight)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "no response", res.Response)
	assert.True(t, link.Connected())
}

func TestExecuteTransportFailureDemotes(t *testing.T) {
	port := &fakePort{}
	opener := &countingOpener{port: port}
	link := NewLink(testConfig(opener.open))
	defer link.Close()
	require.NoError(t, link.Connect())

	port.setWriteErr(errors.New("device unplugged"))
	opener.setErr(errors.New("no such device"))

	res, err := link.Execute(context.Background(), CmdForward)
	require.Error(t, err)
	assert.False(t, res.OK)
	assert.False(t, link.Connected())
	assert.True(t, port.closed.Load())
}

func TestExecuteInlineReconnect(t *testing.T) {
	port := &fakePort{}
	opener := &countingOpener{err: errors.New("no such device")}
	link := NewLink(testConfig(opener.open))
	defer link.Close()

	// Disconnected and the opener refuses: nothing reaches the wire.
	res, err := link.Execute(context.Background(), CmdForward)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "controller not connected", res.Response)
	assert.Nil(t, port.writtenLines())

	// The device shows up; the next command dials inline and succeeds.
	opener.mu.Lock()
	opener.err = nil
	opener.port = port
	opener.mu.Unlock()

	res, err = link.Execute(context.Background(), CmdForward)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, link.Connected())
}

func TestExecuteCanceledContext(t *testing.T) {
	port := &fakePort{}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()
	require.NoError(t, link.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := link.Execute(ctx, CmdForward)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReconnectBounded(t *testing.T) {
	port := &fakePort{}
	opener := &countingOpener{port: port}
	cfg := testConfig(opener.open)
	link := NewLink(cfg)
	defer link.Close()
	require.NoError(t, link.Connect())
	require.Equal(t, 1, opener.callCount())

	port.setWriteErr(errors.New("device unplugged"))
	opener.setErr(errors.New("no such device"))

	_, err := link.Execute(context.Background(), CmdForward)
	require.Error(t, err)

	// Let the background loop exhaust its attempts, then verify it stays
	// quiet.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if opener.callCount() == 1+cfg.MaxReconnectAttempts {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1+cfg.MaxReconnectAttempts, opener.callCount())

	time.Sleep(10 * cfg.ReconnectDelay)
	assert.Equal(t, 1+cfg.MaxReconnectAttempts, opener.callCount())
	assert.False(t, link.Connected())
}

func TestDisconnectSendsStop(t *testing.T) {
	port := &fakePort{}
	link := NewLink(testConfig(openerFor(port)))
	require.NoError(t, link.Connect())

	link.Disconnect()
	assert.False(t, link.Connected())
	assert.True(t, port.closed.Load())
	assert.Equal(t, []string{"PING", "STOP"}, port.writtenLines())

	// Repeated disconnects are harmless and write nothing more.
	link.Disconnect()
	link.Close()
	assert.Equal(t, []string{"PING", "STOP"}, port.writtenLines())
}

func TestExecuteSerializesRequests(t *testing.T) {
	port := &fakePort{}
	link := NewLink(testConfig(openerFor(port)))
	defer link.Close()
	require.NoError(t, link.Connect())

	cmds := []Command{CmdForward, CmdBackward, CmdLeft, CmdRight, CmdStop}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				res, err := link.Execute(context.Background(), cmds[(i+j)%len(cmds)])
				assert.NoError(t, err)
				assert.True(t, res.OK)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, port.violations.Load(), "interleaved requests on the wire")

	valid := map[string]bool{"PING": true}
	for _, c := range cmds {
		valid[c.Verb()] = true
	}
	lines := port.writtenLines()
	assert.Len(t, lines, 1+8*5)
	for _, line := range lines {
		assert.True(t, valid[line], "garbled line %q", line)
	}
}
