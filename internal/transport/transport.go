// Package transport defines the mechanism-agnostic contract every IPC
// transport (stream socket, shared memory, message queue) implements, plus
// the shared error taxonomy the benchmark driver and result aggregator
// reason about without caring which mechanism produced the error.
package transport

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Transport is one live connection: a bound listener that has accepted a
// peer, or a dial that has connected to one. Mechanisms that are inherently
// one-way (the shared-memory ring) implement both Send and Recv over two
// underlying segments, keeping the contract symmetric for the driver.
type Transport interface {
	// Send transmits one envelope-sized payload. It blocks (respecting
	// ctx's deadline) if the transport cannot accept it immediately.
	Send(ctx context.Context, payload []byte) error

	// Recv receives one envelope-sized payload, blocking (respecting ctx's
	// deadline) until one is available.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the transport's resources. It is safe to call more
	// than once; calls after the first return nil.
	Close() error
}

// Listener accepts one Transport per server-side mechanism instance. The shm
// and pmq listeners refuse a second Accept rather than multiplexing; the
// stream listener accepts a further connection on each Accept call.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() string
}

// Dialer connects to a server-side Listener's address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// Kind identifies an error's category for JSON serialization and
// cross-mechanism aggregation. Values are stable strings, not ordinal, so
// a result file remains meaningful even if this package's internals change.
type Kind string

const (
	KindAddressInUse        Kind = "AddressInUse"
	KindBinaryNotFound      Kind = "BinaryNotFound"
	KindHandshakeTimeout    Kind = "HandshakeTimeout"
	KindPeerClosed          Kind = "PeerClosed"
	KindProtocolMismatch    Kind = "ProtocolMismatch"
	KindFrameTooLarge       Kind = "FrameTooLarge"
	KindTruncated           Kind = "Truncated"
	KindBackpressureTimeout Kind = "BackpressureTimeout"
	KindSaturatedHistogram  Kind = "SaturatedHistogram"
	KindTransportUnavailable Kind = "TransportUnavailable"
	KindIoError             Kind = "IoError"
	KindConfigInvalid       Kind = "ConfigInvalid"
)

// classifiedError attaches a Kind to a wrapped error while keeping it
// unwrappable, so `errors.Is`/`errors.As` against the original sentinel or
// cause still work.
type classifiedError struct {
	kind Kind
	err  error
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

// WithKind annotates err with a Kind, retrievable later via KindOf.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, err: err}
}

// KindOf extracts the Kind attached by WithKind, walking the error chain,
// or KindIoError if the error was never classified — every transport error
// should be classified before it reaches the result aggregator, so this is
// a defensive fallback, not the expected path.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindIoError
}

// Sentinel returns the canonical sentinel error for a Kind, suitable for
// wrapping with extra context via WithKind(fmt.Errorf("...: %w", cause), kind).
func Sentinel(kind Kind) error { return kindSentinels[kind] }

var kindSentinels = map[Kind]error{
	KindAddressInUse:         errors.New("address in use"),
	KindBinaryNotFound:       errors.New("binary not found"),
	KindHandshakeTimeout:     errors.New("handshake timeout"),
	KindPeerClosed:           errors.New("peer closed"),
	KindProtocolMismatch:     errors.New("protocol mismatch"),
	KindFrameTooLarge:        errors.New("frame too large"),
	KindTruncated:            errors.New("truncated"),
	KindBackpressureTimeout:  errors.New("backpressure timeout"),
	KindSaturatedHistogram:   errors.New("saturated histogram"),
	KindTransportUnavailable: errors.New("transport unavailable"),
	KindIoError:              errors.New("io error"),
	KindConfigInvalid:        errors.New("config invalid"),
}
