//go:build !linux

package pmq

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// errUnsupportedMechanism is what every stub entry point returns: POSIX
// message queues (mq_open/mq_timedsend/mq_timedreceive) are a Linux-only
// syscall surface, so off Linux the mechanism is unavailable rather than
// failing the whole package to compile.
var errUnsupportedMechanism = transport.WithKind(errors.New("pmq: mechanism not supported on this platform"), transport.KindTransportUnavailable)

// Listener is the stub's zero-value implementation of transport.Listener;
// Listen never returns one, so its methods are unreachable.
type Listener struct{}

func (*Listener) Accept(ctx context.Context) (transport.Transport, error) {
	return nil, errUnsupportedMechanism
}

func (*Listener) Close() error { return nil }

func (*Listener) Addr() string { return "" }

// Listen reports the pmq mechanism as unavailable on this platform.
func Listen(name string, depth, maxMsgSize int64, priority uint) (*Listener, error) {
	return nil, errUnsupportedMechanism
}

// Dial reports the pmq mechanism as unavailable on this platform.
func Dial(ctx context.Context, name string, maxMsgSize int64, priority uint) (transport.Transport, error) {
	return nil, errUnsupportedMechanism
}
