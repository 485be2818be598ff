//go:build linux

package pmq

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// A round trip needs one queue per direction since a POSIX message queue
// delivers to whichever reader dequeues next, not to a specific peer.
const (
	c2sSuffix = "-c2s"
	s2cSuffix = "-s2c"
)

// Listener owns the named queue pair for one worker, created fresh on Listen
// and unlinked on Close.
type Listener struct {
	base       string
	maxMsgSize int64
	priority   uint

	recv *Queue // c2s, server reads
	send *Queue // s2c, server writes

	mu       sync.Mutex
	accepted bool
	closed   bool
}

// Listen creates the named queue pair backing a round-trip channel.
func Listen(name string, depth, maxMsgSize int64, priority uint) (*Listener, error) {
	recv, err := Create(Config{Name: name + c2sSuffix, Depth: depth, MaxMsgSize: maxMsgSize, Priority: priority})
	if err != nil {
		return nil, err
	}
	send, err := Create(Config{Name: name + s2cSuffix, Depth: depth, MaxMsgSize: maxMsgSize, Priority: priority})
	if err != nil {
		recv.Close()
		return nil, err
	}
	return &Listener{base: name, maxMsgSize: maxMsgSize, priority: priority, recv: recv, send: send}, nil
}

// Addr returns the queue pair's base name.
func (l *Listener) Addr() string { return l.base }

// Accept returns the server-side Transport. A given Listener accepts at
// most once, matching the one-connection-per-worker model used by every
// mechanism in this harness.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	l.mu.Lock()
	if l.accepted {
		l.mu.Unlock()
		return nil, transport.WithKind(errors.New("pmq: listener already accepted its one connection"), transport.KindIoError)
	}
	l.accepted = true
	l.mu.Unlock()
	return &Conn{recv: l.recv, send: l.send}, nil
}

// Close unlinks both queues.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	var firstErr error
	if err := l.recv.Close(); err != nil {
		firstErr = err
	}
	if err := l.send.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Dial opens the queue pair a Listener already created for name.
func Dial(ctx context.Context, name string, maxMsgSize int64, priority uint) (transport.Transport, error) {
	send, err := Open(name+c2sSuffix, maxMsgSize, priority)
	if err != nil {
		return nil, err
	}
	recv, err := Open(name+s2cSuffix, maxMsgSize, priority)
	if err != nil {
		send.Close()
		return nil, err
	}
	return &Conn{recv: recv, send: send}, nil
}

// Conn is one side's view of a round-trip message-queue channel.
type Conn struct {
	send *Queue
	recv *Queue

	mu     sync.Mutex
	closed bool
}

// Send enqueues payload onto the send queue.
func (c *Conn) Send(ctx context.Context, payload []byte) error { return c.send.Send(ctx, payload) }

// Recv dequeues the next datagram from the recv queue.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) { return c.recv.Recv(ctx) }

// Close closes both descriptors. Only the owning side (the Listener's
// Queues) unlinks the named queues; a dialed Conn's Queues are non-owning.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if err := c.send.Close(); err != nil {
		firstErr = err
	}
	if err := c.recv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
