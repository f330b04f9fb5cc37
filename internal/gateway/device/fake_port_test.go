package device

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakePort is an in-memory serial endpoint. By default it acknowledges
// every command line with "OK:<VERB>"; replyFunc overrides that. It also
// checks the single-writer discipline: a Write that arrives while a
// previous request's reply has not been fully consumed is a violation.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	pending []byte

	replyFunc func(verb string) string

	writeErr error
	readErr  error

	closed     atomic.Bool
	busy       atomic.Bool
	violations atomic.Int32
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	werr := p.writeErr
	p.mu.Unlock()
	if werr != nil {
		return 0, werr
	}

	if !p.busy.CompareAndSwap(false, true) {
		p.violations.Add(1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.written.Write(b)

	verb := strings.TrimSpace(string(b))
	reply := "OK:" + verb
	if p.replyFunc != nil {
		reply = p.replyFunc(verb)
	}
	if reply != "" {
		p.pending = append(p.pending, []byte(reply+"\n")...)
	} else {
		// No reply coming; the request is over as far as the wire goes.
		p.busy.Store(false)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	rerr := p.readErr
	p.mu.Unlock()
	if rerr != nil {
		return 0, rerr
	}

	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.pending[:1])
	consumed := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()

	if consumed == '\n' {
		p.busy.Store(false)
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.busy.Store(false)
	return nil
}

func (p *fakePort) setWriteErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *fakePort) writtenLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.TrimSuffix(p.written.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// testConfig returns a link config with delays shrunk for tests.
func testConfig(open Opener) Config {
	return Config{
		Device:               "/dev/ttyTEST0",
		Baud:                 9600,
		Timeout:              50 * time.Millisecond,
		SettleDelay:          time.Millisecond,
		DrainAttempts:        1,
		DrainPause:           time.Millisecond,
		PingRetries:          3,
		PingInterval:         time.Millisecond,
		WriteSettle:          time.Millisecond,
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Open:                 open,
	}
}

// openerFor returns an Opener that always hands out the given port.
func openerFor(port Port) Opener {
	return func(string, int, time.Duration) (Port, error) {
		return port, nil
	}
}
