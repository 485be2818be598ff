package bench

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/clock"
	"github.com/redhat-performance/rusty-comms/internal/envelope"
	"github.com/redhat-performance/rusty-comms/internal/latency"
	"github.com/redhat-performance/rusty-comms/internal/stats"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// isDeadlineErr reports whether err is a deadline/timeout, however the
// mechanism that produced it chose to express that: shm and a bare ctx
// return context.DeadlineExceeded directly, stream sockets return
// os.ErrDeadlineExceeded from SetReadDeadline, and pmq classifies it as
// transport.KindBackpressureTimeout. The net.Error Timeout() check catches
// whichever of the first two a given mechanism used without needing to
// enumerate them.
func isDeadlineErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if transport.KindOf(err) == transport.KindBackpressureTimeout {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}

// makeID packs a worker id and a per-worker sequence number into the
// envelope's single 64-bit id field, per "message IDs are (worker_id,
// sequence); they are unique per test."
func makeID(workerID uint32, seq uint64) uint64 {
	return uint64(workerID)<<32 | (seq & 0xffffffff)
}

func encodeSend(ctx context.Context, conn transport.Transport, e *envelope.Envelope) error {
	buf := make([]byte, e.Len())
	e.Encode(buf)
	return conn.Send(ctx, buf)
}

func recvEnvelope(ctx context.Context, conn transport.Transport) (*envelope.Envelope, error) {
	buf, err := conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return envelope.Decode(buf)
}

// sleepCtx sleeps for d unless ctx is done first, so a canceled run never
// hangs on the inter-send pacing delay.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// RunOneWaySender drives the fire-and-forget direction from the sending
// side: warmup, canary, then the measured send loop, terminated by an
// explicit Terminate envelope. The sender never records latency itself —
// only the receiver, which alone knows recv_ns, does that.
func RunOneWaySender(ctx context.Context, conn transport.Transport, cfg TestConfig, workerID uint32) (sent, bytesSent uint64, err error) {
	payload := envelope.Payload(cfg.MessageSizeBytes, 0)
	seq := uint64(0)

	send := func() error {
		seq++
		e := &envelope.Envelope{
			ID:              makeID(workerID, seq),
			SendTimestampNs: uint64(clock.MonotonicNanos()),
			WorkerID:        workerID,
			Kind:            envelope.KindOneWay,
			Payload:         payload,
		}
		return encodeSend(ctx, conn, e)
	}

	for i := 0; i < cfg.WarmupIterations; i++ {
		if err := send(); err != nil {
			return sent, bytesSent, err
		}
	}
	if err := send(); err != nil { // canary
		return sent, bytesSent, err
	}

	if cfg.Termination.ByCount() {
		for i := 0; i < cfg.Termination.Count; i++ {
			if ctx.Err() != nil {
				break
			}
			if err := send(); err != nil {
				return sent, bytesSent, err
			}
			sent++
			bytesSent += uint64(len(payload))
			if cfg.SendDelay > 0 {
				sleepCtx(ctx, cfg.SendDelay)
			}
		}
	} else {
		deadline := time.Now().Add(cfg.Termination.Duration)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			if err := send(); err != nil {
				return sent, bytesSent, err
			}
			sent++
			bytesSent += uint64(len(payload))
			if cfg.SendDelay > 0 {
				sleepCtx(ctx, cfg.SendDelay)
			}
		}
	}

	seq++
	term := &envelope.Envelope{ID: makeID(workerID, seq), WorkerID: workerID, Kind: envelope.KindTerminate}
	_ = encodeSend(ctx, conn, term)
	return sent, bytesSent, nil
}

// RunOneWayReceiver drives the fire-and-forget direction from the receiving
// side, the only side that can compute recv_ns - send_ns. It discards the
// warmup batch and (unless includeFirstMessage) the canary, recording every
// subsequent sample until it sees the sender's Terminate envelope.
func RunOneWayReceiver(ctx context.Context, conn transport.Transport, cfg TestConfig, workerID uint32, hist *stats.Histogram, sink *latency.Sink) (received, bytesReceived uint64, err error) {
	seq := 0
	for {
		e, rerr := recvEnvelope(ctx, conn)
		if rerr != nil {
			return received, bytesReceived, rerr
		}
		if e.Kind == envelope.KindTerminate {
			return received, bytesReceived, nil
		}

		seq++
		if seq <= cfg.WarmupIterations {
			continue
		}
		if seq == cfg.WarmupIterations+1 && !cfg.IncludeFirstMessage {
			continue
		}

		recvNs := uint64(clock.MonotonicNanos())
		hist.Record(int64(recvNs) - int64(e.SendTimestampNs))
		if sink != nil {
			sink.TryPush(latency.Sample{ID: e.ID, WorkerID: workerID, SendNs: e.SendTimestampNs, RecvNs: recvNs, Kind: e.Kind})
		}
		received++
		bytesReceived += uint64(len(e.Payload))
	}
}

// RunRoundTripRequester drives the request/reply direction from the
// measuring side: it sends a Request, blocks for the matching Reply, and
// records round-trip latency against its own clock — no cross-process
// clock assumption needed since send and receive both happen here.
func RunRoundTripRequester(ctx context.Context, conn transport.Transport, cfg TestConfig, workerID uint32, hist *stats.Histogram, sink *latency.Sink) (sent, bytesSent uint64, err error) {
	payload := envelope.Payload(cfg.MessageSizeBytes, 0)
	seq := uint64(0)

	roundTrip := func(ctx context.Context, discard bool) error {
		seq++
		id := makeID(workerID, seq)
		sendNs := uint64(clock.MonotonicNanos())
		req := &envelope.Envelope{ID: id, SendTimestampNs: sendNs, WorkerID: workerID, Kind: envelope.KindRequest, Payload: payload}
		if err := encodeSend(ctx, conn, req); err != nil {
			return err
		}

		reply, err := recvEnvelope(ctx, conn)
		if err != nil {
			return err
		}
		if reply.Kind != envelope.KindReply || reply.ID != id {
			return transport.WithKind(
				errors.Newf("bench: round-trip mismatch: sent request id %d, got reply id %d kind %d", id, reply.ID, reply.Kind),
				transport.KindProtocolMismatch)
		}
		if len(reply.Payload) != len(payload) {
			return transport.WithKind(
				errors.Newf("bench: round-trip reply payload length %d != request length %d", len(reply.Payload), len(payload)),
				transport.KindProtocolMismatch)
		}

		if discard {
			return nil
		}
		recvNs := uint64(clock.MonotonicNanos())
		hist.Record(int64(recvNs) - int64(sendNs))
		if sink != nil {
			sink.TryPush(latency.Sample{ID: id, WorkerID: workerID, SendNs: sendNs, RecvNs: recvNs, Kind: envelope.KindRequest})
		}
		sent++
		bytesSent += uint64(len(payload))
		return nil
	}

	for i := 0; i < cfg.WarmupIterations; i++ {
		if err := roundTrip(ctx, true); err != nil {
			return sent, bytesSent, err
		}
	}
	if err := roundTrip(ctx, !cfg.IncludeFirstMessage); err != nil { // canary
		return sent, bytesSent, err
	}

	if cfg.Termination.ByCount() {
		for i := 0; i < cfg.Termination.Count; i++ {
			if ctx.Err() != nil {
				break
			}
			if err := roundTrip(ctx, false); err != nil {
				return sent, bytesSent, err
			}
			if cfg.SendDelay > 0 {
				sleepCtx(ctx, cfg.SendDelay)
			}
		}
	} else {
		deadline := time.Now().Add(cfg.Termination.Duration)
		for time.Now().Before(deadline) && ctx.Err() == nil {
			callCtx := ctx
			cancel := func() {}
			if cfg.DiscardInFlightOnDeadline {
				callCtx, cancel = context.WithDeadline(ctx, deadline)
			}
			err := roundTrip(callCtx, false)
			cancel()
			if err != nil {
				if cfg.DiscardInFlightOnDeadline && isDeadlineErr(err) {
					break
				}
				return sent, bytesSent, err
			}
			if cfg.SendDelay > 0 {
				sleepCtx(ctx, cfg.SendDelay)
			}
		}
	}

	seq++
	term := &envelope.Envelope{ID: makeID(workerID, seq), WorkerID: workerID, Kind: envelope.KindTerminate}
	_ = encodeSend(ctx, conn, term)
	return sent, bytesSent, nil
}

// RunRoundTripReplier drives the passive side of the request/reply
// direction: echo every Request back as a Reply with the same id and
// payload length until the requester's Terminate envelope arrives.
func RunRoundTripReplier(ctx context.Context, conn transport.Transport, workerID uint32) error {
	for {
		req, err := recvEnvelope(ctx, conn)
		if err != nil {
			return err
		}
		if req.Kind == envelope.KindTerminate {
			return nil
		}
		reply := &envelope.Envelope{
			ID:              req.ID,
			SendTimestampNs: req.SendTimestampNs,
			EchoTimestampNs: uint64(clock.MonotonicNanos()),
			WorkerID:        workerID,
			Kind:            envelope.KindReply,
			Payload:         req.Payload,
		}
		if err := encodeSend(ctx, conn, reply); err != nil {
			return err
		}
	}
}
