package bench

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/envelope"
	"github.com/redhat-performance/rusty-comms/internal/transport"
	"github.com/redhat-performance/rusty-comms/internal/transport/pmq"
	"github.com/redhat-performance/rusty-comms/internal/transport/shm"
	"github.com/redhat-performance/rusty-comms/internal/transport/stream"
)

// workerAddr derives one worker's transport identifier from the test's base
// address, since each worker owns its own connection (its own Listener for
// stream sockets, its own segment/queue pair for shm/pmq). Worker 0 always
// uses the bare configured address so single-worker tests need no suffix.
func workerAddr(base string, workerID uint32) string {
	if workerID == 0 {
		return base
	}
	return fmt.Sprintf("%s-w%d", base, workerID)
}

// listenFor builds the passive ("Client" role) side of one worker's
// connection: a bound listener accepting exactly one peer.
func listenFor(cfg TestConfig, workerID uint32) (transport.Listener, error) {
	addr := workerAddr(cfg.TransportAddr, workerID)
	switch cfg.Mechanism {
	case MechanismUDS:
		return stream.ListenRetryStale(stream.NetworkUnix, addr)
	case MechanismTCP:
		return stream.ListenRetryStale(stream.NetworkTCP, addr)
	case MechanismSHM:
		return shm.Listen(addr, uint64(cfg.BufferSize))
	case MechanismPMQ:
		return pmq.Listen(addr, int64(bufferDepth(cfg)), pmqMsgSize(cfg), pmqPriority(cfg))
	default:
		return nil, transport.WithKind(errors.Newf("bench: unknown mechanism %q", cfg.Mechanism), transport.KindConfigInvalid)
	}
}

// dialFor builds the active ("Host" role) side of one worker's connection.
func dialFor(ctx context.Context, cfg TestConfig, workerID uint32) (transport.Transport, error) {
	addr := workerAddr(cfg.TransportAddr, workerID)
	switch cfg.Mechanism {
	case MechanismUDS:
		return stream.Dial(ctx, stream.NetworkUnix, addr)
	case MechanismTCP:
		return stream.Dial(ctx, stream.NetworkTCP, addr)
	case MechanismSHM:
		return shm.Dial(ctx, addr)
	case MechanismPMQ:
		return pmq.Dial(ctx, addr, pmqMsgSize(cfg), pmqPriority(cfg))
	default:
		return nil, transport.WithKind(errors.Newf("bench: unknown mechanism %q", cfg.Mechanism), transport.KindConfigInvalid)
	}
}

// bufferDepth derives the PMQ queue depth from the configured buffer size
// and message size, at least 1.
func bufferDepth(cfg TestConfig) int {
	if cfg.MessageSizeBytes <= 0 {
		return 1
	}
	depth := cfg.BufferSize / cfg.MessageSizeBytes
	if depth < 1 {
		depth = 1
	}
	return depth
}

func pmqPriority(cfg TestConfig) uint { return uint(cfg.PMQPriority) }

// pmqMsgSize is the queue's per-message size limit: one whole envelope,
// header plus the configured payload.
func pmqMsgSize(cfg TestConfig) int64 { return int64(envelope.HeaderSize + cfg.MessageSizeBytes) }

// EffectiveConcurrency forces shared-memory tests to a single worker
// regardless of the requested --concurrency, logging the collapse being the
// caller's responsibility (the ring transport is strictly SPSC).
func EffectiveConcurrency(cfg TestConfig) int {
	if cfg.Mechanism == MechanismSHM {
		return 1
	}
	if cfg.Concurrency < 1 {
		return 1
	}
	return cfg.Concurrency
}
