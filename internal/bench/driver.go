package bench

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redhat-performance/rusty-comms/internal/latency"
	"github.com/redhat-performance/rusty-comms/internal/logging"
	"github.com/redhat-performance/rusty-comms/internal/stats"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// DirectionOutcome is one direction's (one-way or round-trip) accumulated
// measurement across every worker, ready for result.DirectionResultFrom.
// Either registry is populated (the common case: this process measured the
// direction itself) or summary is (the cross-process one-way case, where
// only the spawned child's receiver measured it and reported back a
// pre-merged summary).
type DirectionOutcome struct {
	registry      *stats.Registry
	summary       *stats.Summary
	totalMessages uint64
	totalBytes    uint64
	dropped       uint64
	elapsed       time.Duration
}

// Summary returns the direction's merged histogram statistics, computing
// them from the per-worker registry unless a pre-merged summary (reported
// by a cross-process child) is already set.
func (d *DirectionOutcome) Summary(percentiles []float64) stats.Summary {
	if d.summary != nil {
		return *d.summary
	}
	return d.registry.Merge(percentiles)
}

// TotalMessages is the direction's message count across every worker.
func (d *DirectionOutcome) TotalMessages() uint64 { return d.totalMessages }

// TotalBytes is the direction's payload byte count across every worker.
func (d *DirectionOutcome) TotalBytes() uint64 { return d.totalBytes }

// Dropped is the count of samples the streaming sink could not buffer
// before a caller's drain goroutine kept up, 0 if no sink was attached.
func (d *DirectionOutcome) Dropped() uint64 { return d.dropped }

// Elapsed is the direction's measured wall-clock duration.
func (d *DirectionOutcome) Elapsed() time.Duration { return d.elapsed }

// Streams carries the optional per-direction sinks a caller wants sample
// output streamed into. Either field may be nil, meaning that direction's
// samples are never buffered for streaming (only the in-memory histogram
// still sees them). The driver closes whichever sink it is handed once
// every worker measuring that direction has finished, so a caller's drain
// loop (e.g. latency.JSONStreamWriter.Run) terminates on its own.
type Streams struct {
	OneWay    *latency.Sink
	RoundTrip *latency.Sink
}

// RunInProcess runs both ends of cfg's mechanism within this process, one
// goroutine pair (sender+receiver, or requester+replier) per worker,
// sharing histograms and sinks directly — the "InProcess" role, where both
// ends cross a task boundary but never a process boundary, so one-way
// latency needs no child-report round trip back to a parent.
func RunInProcess(ctx context.Context, cfg TestConfig, streams Streams) (oneWay, roundTrip *DirectionOutcome, err error) {
	workers := EffectiveConcurrency(cfg)
	if workers < cfg.Concurrency {
		logging.L().Warn("bench: shared-memory transport forces concurrency to 1",
			zap.Int("requested", cfg.Concurrency), zap.String("mechanism", string(cfg.Mechanism)))
	}

	if cfg.OneWay {
		oneWay, err = runDirectionInProcess(ctx, cfg, workers, runOneWayPair, streams.OneWay)
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.RoundTrip {
		roundTrip, err = runDirectionInProcess(ctx, cfg, workers, runRoundTripPair, streams.RoundTrip)
		if err != nil {
			return oneWay, nil, err
		}
	}
	return oneWay, roundTrip, nil
}

// pairFunc runs one worker's full sender+receiver (or requester+replier)
// pair over an already-connected listener/dialer, recording into registry
// and, if sink is non-nil, pushing each measured sample onto it.
type pairFunc func(ctx context.Context, cfg TestConfig, workerID uint32, listener transport.Listener, registry *stats.Registry, sink *latency.Sink) (messages, bytes uint64, err error)

func runDirectionInProcess(ctx context.Context, cfg TestConfig, workers int, run pairFunc, sink *latency.Sink) (*DirectionOutcome, error) {
	registry := stats.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)

	var totalMessages, totalBytes uint64
	var mu sync.Mutex
	start := time.Now()

	for w := 0; w < workers; w++ {
		workerID := uint32(w)
		listener, err := listenFor(cfg, workerID)
		if err != nil {
			return nil, err
		}

		g.Go(func() error {
			defer listener.Close()
			msgs, bytes, err := run(gctx, cfg, workerID, listener, registry, sink)
			mu.Lock()
			totalMessages += msgs
			totalBytes += bytes
			mu.Unlock()
			return err
		})
	}

	waitErr := g.Wait()
	var dropped uint64
	if sink != nil {
		dropped = sink.Dropped()
		sink.Close()
	}
	if waitErr != nil {
		return nil, waitErr
	}

	return &DirectionOutcome{
		registry:      registry,
		totalMessages: totalMessages,
		totalBytes:    totalBytes,
		dropped:       dropped,
		elapsed:       time.Since(start),
	}, nil
}

// runOneWayPair dials the active side and accepts the passive side of one
// worker's connection within the same process, running the sender against
// the dial and the receiver against the accepted peer concurrently.
func runOneWayPair(ctx context.Context, cfg TestConfig, workerID uint32, listener transport.Listener, registry *stats.Registry, sink *latency.Sink) (messages, bytes uint64, err error) {
	g, gctx := errgroup.WithContext(ctx)

	var serverConn transport.Transport
	g.Go(func() error {
		var acceptErr error
		serverConn, acceptErr = listener.Accept(gctx)
		return acceptErr
	})

	clientConn, dialErr := dialFor(ctx, cfg, workerID)
	if dialErr != nil {
		return 0, 0, dialErr
	}
	defer clientConn.Close()

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	defer serverConn.Close()

	hist := registry.ForWorker(workerID)

	// gctx is cancelled as soon as g.Wait returns, so the measurement loops
	// run on the caller's ctx.
	recvErrCh := make(chan error, 1)
	var received, receivedBytes uint64
	go func() {
		var err error
		received, receivedBytes, err = RunOneWayReceiver(ctx, serverConn, cfg, workerID, hist, sink)
		recvErrCh <- err
	}()

	sent, sentBytes, sendErr := RunOneWaySender(ctx, clientConn, cfg, workerID)
	recvErr := <-recvErrCh

	if sendErr != nil {
		return sent, sentBytes, sendErr
	}
	if recvErr != nil {
		return received, receivedBytes, recvErr
	}
	return received, receivedBytes, nil
}

// runRoundTripPair dials the requester (the measuring side) and accepts the
// replier within the same process.
func runRoundTripPair(ctx context.Context, cfg TestConfig, workerID uint32, listener transport.Listener, registry *stats.Registry, sink *latency.Sink) (messages, bytes uint64, err error) {
	g, gctx := errgroup.WithContext(ctx)

	var serverConn transport.Transport
	g.Go(func() error {
		var acceptErr error
		serverConn, acceptErr = listener.Accept(gctx)
		return acceptErr
	})

	clientConn, dialErr := dialFor(ctx, cfg, workerID)
	if dialErr != nil {
		return 0, 0, dialErr
	}
	defer clientConn.Close()

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	defer serverConn.Close()

	hist := registry.ForWorker(workerID)

	// As in runOneWayPair, gctx is already cancelled here; use ctx.
	replyErrCh := make(chan error, 1)
	go func() {
		replyErrCh <- RunRoundTripReplier(ctx, serverConn, workerID)
	}()

	sent, sentBytes, reqErr := RunRoundTripRequester(ctx, clientConn, cfg, workerID, hist, sink)
	replyErr := <-replyErrCh

	if reqErr != nil {
		return sent, sentBytes, reqErr
	}
	if replyErr != nil && !errors.Is(replyErr, context.Canceled) {
		return sent, sentBytes, replyErr
	}
	return sent, sentBytes, nil
}
