//go:build linux

// Package pmq implements the POSIX message queue transport: a fixed-max-size
// datagram queue with a send priority, addressed by a kernel-visible name
// under /dev/mqueue. The standard library has no mq_* bindings, so this
// package issues the syscalls directly through golang.org/x/sys/unix, the
// same approach the shared-memory package uses for SYS_FUTEX.
package pmq

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// DefaultPriority is used when the caller does not request a specific
// mq_send priority.
const DefaultPriority = 0

// mqAttr mirrors struct mq_attr from <mqueue.h>: flags, max queue depth,
// max message size, and current queue depth (ignored on mq_open).
type mqAttr struct {
	Flags   int64
	MaxMsg  int64
	MsgSize int64
	CurMsgs int64
	pad     [4]int64 // kernel struct is padded to a fixed size on most ABIs
}

// queueName returns the kernel-visible /name the mq_* syscalls expect; POSIX
// requires a leading slash and no further slashes.
func queueName(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name
	}
	return "/" + name
}

// mqOpen wraps the mq_open(2) syscall, which has no golang.org/x/sys/unix
// binding on Linux.
func mqOpen(name string, oflag int, mode uint32, attr *mqAttr) (int, error) {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return -1, err
	}
	r1, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(nameBytes)), uintptr(oflag), uintptr(mode), uintptr(unsafe.Pointer(attr)), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

func mqUnlink(name string) error {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(nameBytes)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func mqTimedSend(fd int, buf []byte, priority uint, timeout *unix.Timespec) error {
	var bufPtr unsafe.Pointer
	if len(buf) > 0 {
		bufPtr = unsafe.Pointer(&buf[0])
	}
	_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
		uintptr(fd), uintptr(bufPtr), uintptr(len(buf)), uintptr(priority), uintptr(unsafe.Pointer(timeout)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func mqTimedReceive(fd int, buf []byte, timeout *unix.Timespec) (int, uint, error) {
	var bufPtr unsafe.Pointer
	if len(buf) > 0 {
		bufPtr = unsafe.Pointer(&buf[0])
	}
	var priority uint
	r1, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(fd), uintptr(bufPtr), uintptr(len(buf)), uintptr(unsafe.Pointer(&priority)), uintptr(unsafe.Pointer(timeout)), 0)
	if errno != 0 {
		return 0, 0, errno
	}
	return int(r1), priority, nil
}

// Queue is one end of a named POSIX message queue.
type Queue struct {
	fd       int
	name     string
	maxMsg   int
	priority uint
	owner    bool // true if this end created (and therefore unlinks) the queue

	mu     sync.Mutex
	closed bool
}

// Config controls queue creation.
type Config struct {
	Name        string
	Depth       int64 // queue_depth: max number of messages in flight
	MaxMsgSize  int64 // passed to mq_open unchanged; mq_open fails if it exceeds the system limit
	Priority    uint
}

// Create opens or creates a named queue as its owner (the server role),
// pre-unlinking any stale queue left by a prior run.
func Create(cfg Config) (*Queue, error) {
	name := queueName(cfg.Name)
	_ = mqUnlink(name)

	attr := &mqAttr{MaxMsg: cfg.Depth, MsgSize: cfg.MaxMsgSize}
	fd, err := mqOpen(name, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600, attr)
	if err != nil {
		return nil, transport.WithKind(errors.Wrapf(err, "pmq: create queue %s", name), transport.KindIoError)
	}
	return &Queue{fd: fd, name: name, maxMsg: int(cfg.MaxMsgSize), priority: cfg.Priority, owner: true}, nil
}

// Open attaches to a queue a Create call already created.
func Open(name string, maxMsgSize int64, priority uint) (*Queue, error) {
	fullName := queueName(name)
	fd, err := mqOpen(fullName, unix.O_RDWR, 0, nil)
	if err != nil {
		return nil, transport.WithKind(errors.Wrapf(err, "pmq: open queue %s", fullName), transport.KindTransportUnavailable)
	}
	return &Queue{fd: fd, name: fullName, maxMsg: int(maxMsgSize), priority: priority}, nil
}

// Send enqueues payload as one whole datagram, blocking with a timeout
// derived from ctx's deadline. A full queue past the deadline surfaces
// BackpressureTimeout.
func (q *Queue) Send(ctx context.Context, payload []byte) error {
	ts, hasDeadline := deadlineTimespec(ctx)
	var tsPtr *unix.Timespec
	if hasDeadline {
		tsPtr = &ts
	}
	err := mqTimedSend(q.fd, payload, q.priority, tsPtr)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ETIMEDOUT) {
		return transport.WithKind(errors.Wrap(err, "pmq: send timed out"), transport.KindBackpressureTimeout)
	}
	if errors.Is(err, unix.EMSGSIZE) {
		return transport.WithKind(errors.Wrap(err, "pmq: message exceeds queue max size"), transport.KindFrameTooLarge)
	}
	return transport.WithKind(errors.Wrap(err, "pmq: send"), transport.KindIoError)
}

// Recv dequeues the next whole datagram, blocking with a timeout derived
// from ctx's deadline.
func (q *Queue) Recv(ctx context.Context) ([]byte, error) {
	ts, hasDeadline := deadlineTimespec(ctx)
	var tsPtr *unix.Timespec
	if hasDeadline {
		tsPtr = &ts
	}
	buf := make([]byte, q.maxMsg)
	n, _, err := mqTimedReceive(q.fd, buf, tsPtr)
	if err != nil {
		if errors.Is(err, unix.ETIMEDOUT) {
			return nil, transport.WithKind(errors.Wrap(err, "pmq: receive timed out"), transport.KindBackpressureTimeout)
		}
		return nil, transport.WithKind(errors.Wrap(err, "pmq: receive"), transport.KindIoError)
	}
	return buf[:n], nil
}

// Close closes this end's descriptor. If this Queue is the owner, the
// named queue is also unlinked so its kernel object does not outlive the
// server.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	err := unix.Close(q.fd)
	if q.owner {
		_ = mqUnlink(q.name)
	}
	if err != nil {
		return transport.WithKind(errors.Wrap(err, "pmq: close"), transport.KindIoError)
	}
	return nil
}

func deadlineTimespec(ctx context.Context) (unix.Timespec, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return unix.Timespec{}, false
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	abs := time.Now().Add(d)
	return unix.NsecToTimespec(abs.UnixNano()), true
}
