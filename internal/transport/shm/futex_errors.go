package shm

import (
	"errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("futex timeout")

// ErrFutexUnsupported is returned by the futex stubs on platforms without
// SYS_FUTEX (anything but linux/amd64 or linux/arm64).
var ErrFutexUnsupported = transport.WithKind(errors.New("shm: futex operations not supported on this platform"), transport.KindTransportUnavailable)

