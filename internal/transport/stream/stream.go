// Package stream implements the stream socket transport shared by UDS and
// TCP loopback: one net.Listen network parameterizes both, since framing,
// readiness, and cleanup are otherwise identical.
package stream

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/envelope"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// Network selects which stream socket mechanism to use.
type Network string

const (
	NetworkUnix Network = "unix"
	NetworkTCP  Network = "tcp"
)

// state mirrors the server-side state machine: Listening -> Accepted(k) ->
// Draining -> Closed.
type state int32

const (
	stateListening state = iota
	stateAccepted
	stateDraining
	stateClosed
)

// Listener binds a UDS path or TCP host:port and accepts one connection per
// worker.
type Listener struct {
	net Network
	ln  net.Listener
	path string // non-empty only for NetworkUnix, for cleanup on Close

	mu    sync.Mutex
	state state
}

// Listen binds addr (a filesystem path for NetworkUnix, host:port for
// NetworkTCP), pre-cleaning a stale UDS path first.
func Listen(network Network, addr string) (*Listener, error) {
	if network == NetworkUnix {
		if err := removeStaleUnixSocket(addr); err != nil {
			return nil, transport.WithKind(errors.Wrap(err, "stream: remove stale socket"), transport.KindIoError)
		}
	}

	ln, err := net.Listen(string(network), addr)
	if err != nil {
		if isAddrInUse(err) {
			return nil, transport.WithKind(errors.Wrap(err, "stream: bind"), transport.KindAddressInUse)
		}
		return nil, transport.WithKind(errors.Wrap(err, "stream: bind"), transport.KindIoError)
	}

	path := ""
	if network == NetworkUnix {
		path = addr
	}
	return &Listener{net: network, ln: ln, path: path, state: stateListening}, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, os.ErrExist)
}

func removeStaleUnixSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Accept waits for exactly one connection and wraps it as a Transport. Each
// worker calls Accept on a dedicated Listener in this harness's one-worker-
// one-connection model (see the driver's per-worker fan-out).
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		resCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, transport.WithKind(errors.Wrap(res.err, "stream: accept"), transport.KindIoError)
		}
		l.mu.Lock()
		l.state = stateAccepted
		l.mu.Unlock()
		configureConn(res.conn)
		return &Conn{conn: res.conn, listener: l}, nil
	}
}

// Close closes the listener and, for UDS, removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.state = stateClosed
	l.mu.Unlock()

	err := l.ln.Close()
	if l.path != "" {
		_ = os.Remove(l.path)
	}
	if err != nil {
		return transport.WithKind(errors.Wrap(err, "stream: close listener"), transport.KindIoError)
	}
	return nil
}

// ListenRetryStale behaves like Listen, but for NetworkUnix it retries once
// after forcibly removing addr if the first bind collides with a leftover
// socket node from a prior run that Listen's own pre-clean didn't catch
// (e.g. a path that briefly reappeared between the stat and the bind).
func ListenRetryStale(network Network, addr string) (*Listener, error) {
	ln, err := Listen(network, addr)
	if err == nil || network != NetworkUnix || transport.KindOf(err) != transport.KindAddressInUse {
		return ln, err
	}
	if rmErr := os.Remove(addr); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, err
	}
	return Listen(network, addr)
}

// Dial connects to addr over the given network.
func Dial(ctx context.Context, network Network, addr string) (transport.Transport, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, string(network), addr)
	if err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "stream: dial"), transport.KindTransportUnavailable)
	}
	configureConn(conn)
	return &Conn{conn: conn}, nil
}

func configureConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// Conn is one accepted or dialed stream-socket connection, implementing the
// length-prefixed blocking read/write loop transport.Transport expects.
type Conn struct {
	conn     net.Conn
	listener *Listener

	mu     sync.Mutex
	closed bool
}

// Send writes one length-prefixed frame, honoring ctx's deadline.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	e, err := envelope.Decode(payload)
	if err != nil {
		return err
	}
	return envelope.WriteFramed(c.conn, e)
}

// Recv reads one length-prefixed frame, honoring ctx's deadline. A reset
// connection or short read surfaces as PeerClosed.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	e, err := envelope.ReadFramed(c.conn)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
			return nil, transport.WithKind(err, transport.KindPeerClosed)
		}
		return nil, err
	}
	buf := make([]byte, e.Len())
	e.Encode(buf)
	return buf, nil
}

// Close closes the underlying connection. If this Conn was produced by
// Accept, the listener transitions to Draining before Closed so in-flight
// bytes are allowed to finish.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.mu.Lock()
		c.listener.state = stateDraining
		c.listener.mu.Unlock()
	}

	if err := c.conn.Close(); err != nil {
		return transport.WithKind(errors.Wrap(err, "stream: close conn"), transport.KindIoError)
	}
	return nil
}
