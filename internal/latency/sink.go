// Package latency implements the per-worker sample sink and the streaming
// JSON/CSV emitters that drain it without perturbing the measurement hot
// path.
package latency

import (
	"sync/atomic"

	"github.com/redhat-performance/rusty-comms/internal/envelope"
)

// Sample is one measured message: the envelope id, which worker produced
// it, its send/receive timestamps, and the kind of message it was.
type Sample struct {
	ID       uint64
	WorkerID uint32
	SendNs   uint64
	RecvNs   uint64
	Kind     envelope.Kind
}

// LatencyNs returns the sample's measured latency.
func (s Sample) LatencyNs() int64 { return int64(s.RecvNs) - int64(s.SendNs) }

// Sink is a bounded queue of samples: measurement workers are the
// producers, a streaming writer goroutine the sole consumer. The bench
// driver hands one Sink per direction to every worker of that direction,
// so with more than one worker it has several producers; a Go channel with
// a fixed buffer is safe for that. Sends from the hot path never block
// because workers always use the non-blocking TryPush path and instead
// count a drop.
type Sink struct {
	ch      chan Sample
	dropped atomic.Uint64
}

// NewSink returns a Sink with room for capacity buffered samples before the
// hot path starts dropping streamed representations (the in-memory
// histogram still records every sample regardless).
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Sink{ch: make(chan Sample, capacity)}
}

// TryPush enqueues s for streaming without blocking. If the queue is full
// it increments Dropped and returns false; the caller's histogram recording
// is unaffected either way.
func (s *Sink) TryPush(sample Sample) bool {
	select {
	case s.ch <- sample:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of samples whose streamed representation was
// dropped due to backpressure on the sink.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Close signals no more samples will be pushed, letting a draining reader's
// range loop terminate once the channel empties.
func (s *Sink) Close() { close(s.ch) }

// Samples exposes the receive side for a streaming writer to range over.
func (s *Sink) Samples() <-chan Sample { return s.ch }
