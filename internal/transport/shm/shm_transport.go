//go:build linux && (amd64 || arm64)

package shm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// A round trip needs one ring per direction since Ring itself is strictly
// one-way; c2sSuffix carries client-to-server frames, s2cSuffix the reply.
const (
	c2sSuffix = "-c2s"
	s2cSuffix = "-s2c"
)

// Listener creates the named segment pair for one worker and accepts the
// single client connection that will attach to them. Shared-memory rings
// are inherently single-producer/single-consumer, so a Listener accepts at
// most once; the driver creates one Listener per worker, matching the
// collapsed one-connection-per-worker model used by every mechanism here.
type Listener struct {
	name     string
	capacity uint64

	c2s *Segment // client writes, server reads
	s2c *Segment // server writes, client reads

	mu       sync.Mutex
	accepted bool
	closed   bool
}

// Listen creates both segments backing a round-trip shared-memory channel
// named name, pre-cleaning any stale segment left by a prior run, and claims
// the server's producer/consumer slots.
func Listen(name string, capacity uint64) (*Listener, error) {
	_ = RemoveSegment(name + c2sSuffix)
	_ = RemoveSegment(name + s2cSuffix)

	c2s, err := CreateSegment(name+c2sSuffix, capacity)
	if err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "shm: create c2s segment"), transport.KindIoError)
	}
	s2c, err := CreateSegment(name+s2cSuffix, capacity)
	if err != nil {
		c2s.Close()
		_ = RemoveSegment(name + c2sSuffix)
		return nil, transport.WithKind(errors.Wrap(err, "shm: create s2c segment"), transport.KindIoError)
	}

	if !c2s.H.ClaimConsumer() {
		c2s.Close()
		s2c.Close()
		return nil, transport.WithKind(errors.New("shm: consumer slot already claimed on fresh segment"), transport.KindIoError)
	}
	if !s2c.H.ClaimProducer() {
		c2s.Close()
		s2c.Close()
		return nil, transport.WithKind(errors.New("shm: producer slot already claimed on fresh segment"), transport.KindIoError)
	}

	return &Listener{name: name, capacity: capacity, c2s: c2s, s2c: s2c}, nil
}

// Addr returns the segment pair's base name.
func (l *Listener) Addr() string { return l.name }

// Accept waits for the client's presence flags on both segments, then
// returns the server-side Conn. It may be called only once per Listener.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	l.mu.Lock()
	if l.accepted {
		l.mu.Unlock()
		return nil, transport.WithKind(errors.New("shm: listener already accepted its one connection"), transport.KindIoError)
	}
	l.accepted = true
	l.mu.Unlock()

	if err := WaitForPeerPresence(ctx, l.c2s.H, true); err != nil {
		return nil, err
	}
	if err := WaitForPeerPresence(ctx, l.s2c.H, false); err != nil {
		return nil, err
	}

	return &Conn{
		recvRing:   NewRing(l.c2s),
		sendRing:   NewRing(l.s2c),
		recvIsProd: false,
		sendIsProd: true,
	}, nil
}

// Close releases the server's slots, unmaps both segments, and removes
// their backing files.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.c2s.H.ReleaseConsumer()
	l.s2c.H.ReleaseProducer()
	var firstErr error
	if err := l.c2s.Close(); err != nil {
		firstErr = err
	}
	if err := l.s2c.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	_ = RemoveSegment(l.name + c2sSuffix)
	_ = RemoveSegment(l.name + s2cSuffix)
	if firstErr != nil {
		return transport.WithKind(errors.Wrap(firstErr, "shm: close listener"), transport.KindIoError)
	}
	return nil
}

// Dial opens the segment pair a Listener already created for name, claims
// the client's producer/consumer slots, and waits for the server's presence.
func Dial(ctx context.Context, name string) (transport.Transport, error) {
	c2s, err := OpenSegment(name + c2sSuffix)
	if err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "shm: open c2s segment"), transport.KindTransportUnavailable)
	}
	s2c, err := OpenSegment(name + s2cSuffix)
	if err != nil {
		c2s.Close()
		return nil, transport.WithKind(errors.Wrap(err, "shm: open s2c segment"), transport.KindTransportUnavailable)
	}

	if !c2s.H.ClaimProducer() {
		c2s.Close()
		s2c.Close()
		return nil, transport.WithKind(errors.New("shm: producer slot already claimed"), transport.KindAddressInUse)
	}
	if !s2c.H.ClaimConsumer() {
		c2s.Close()
		s2c.Close()
		return nil, transport.WithKind(errors.New("shm: consumer slot already claimed"), transport.KindAddressInUse)
	}

	if err := WaitForPeerPresence(ctx, s2c.H, true); err != nil {
		return nil, err
	}
	if err := WaitForPeerPresence(ctx, c2s.H, false); err != nil {
		return nil, err
	}

	return &Conn{
		recvRing:   NewRing(s2c),
		sendRing:   NewRing(c2s),
		recvIsProd: false,
		sendIsProd: true,
	}, nil
}

// Conn is one side's view of a round-trip shared-memory channel: a send
// ring it is the producer on, and a recv ring it is the consumer on.
type Conn struct {
	sendRing *Ring
	recvRing *Ring

	sendIsProd bool
	recvIsProd bool

	mu     sync.Mutex
	closed bool
}

// Send writes payload to the peer via the send ring.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	err := c.sendRing.Send(ctx, payload)
	return classifyRingErr(err)
}

// Recv reads the next frame from the peer via the recv ring.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	payload, err := c.recvRing.Recv(ctx)
	if err != nil {
		return nil, classifyRingErr(err)
	}
	return payload, nil
}

func classifyRingErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPeerAbsent), errors.Is(err, ErrRingClosed):
		return transport.WithKind(err, transport.KindPeerClosed)
	case errors.Is(err, ErrFrameTooLarge):
		return transport.WithKind(err, transport.KindFrameTooLarge)
	case errors.Is(err, context.DeadlineExceeded):
		return transport.WithKind(err, transport.KindBackpressureTimeout)
	default:
		return transport.WithKind(err, transport.KindIoError)
	}
}

// Close releases this side's producer/consumer slots on both rings. Segment
// unmapping is owned by whichever side created the segments (the Listener);
// the dialing side only releases its claims.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.sendRing.Close(c.sendIsProd)
	_ = c.recvRing.Close(c.recvIsProd)
	return nil
}
