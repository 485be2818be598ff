//go:build !linux || !(amd64 || arm64)

package shm

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// errUnsupportedMechanism is the error every stub entry point returns: shm
// depends on SYS_FUTEX, so on any platform outside linux/amd64 and
// linux/arm64 the mechanism is unavailable rather than degraded.
var errUnsupportedMechanism = transport.WithKind(errors.New("shm: mechanism not supported on this platform"), transport.KindTransportUnavailable)

// Listener is the stub's zero-value implementation of transport.Listener;
// Listen never returns one, so its methods are unreachable.
type Listener struct{}

func (*Listener) Accept(ctx context.Context) (transport.Transport, error) {
	return nil, errUnsupportedMechanism
}

func (*Listener) Close() error { return nil }

func (*Listener) Addr() string { return "" }

// Listen reports the shm mechanism as unavailable on this platform rather
// than failing the whole package to compile.
func Listen(name string, capacity uint64) (*Listener, error) {
	return nil, errUnsupportedMechanism
}

// Dial reports the shm mechanism as unavailable on this platform.
func Dial(ctx context.Context, name string) (transport.Transport, error) {
	return nil, errUnsupportedMechanism
}
