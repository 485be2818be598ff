package bench

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redhat-performance/rusty-comms/internal/coordinator"
	"github.com/redhat-performance/rusty-comms/internal/latency"
	"github.com/redhat-performance/rusty-comms/internal/logging"
	"github.com/redhat-performance/rusty-comms/internal/stats"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// ChildArgs serializes cfg into the argv a spawned client-role child needs
// to reconstruct an equivalent TestConfig via the same flag parser the host
// itself used: the coordinator invokes the same binary with a server-only
// flag set.
func ChildArgs(cfg TestConfig) []string {
	args := []string{
		"--mode", "client",
		"-m", string(cfg.Mechanism),
		"-s", strconv.Itoa(cfg.MessageSizeBytes),
		"-w", strconv.Itoa(cfg.WarmupIterations),
		"-c", strconv.Itoa(cfg.Concurrency),
		"--buffer-size", strconv.Itoa(cfg.BufferSize),
	}
	if cfg.Termination.ByCount() {
		args = append(args, "-i", strconv.Itoa(cfg.Termination.Count))
	} else {
		args = append(args, "-d", cfg.Termination.Duration.String())
	}
	if cfg.OneWay {
		args = append(args, "--one-way")
	} else {
		args = append(args, "--no-one-way")
	}
	if cfg.RoundTrip {
		args = append(args, "--round-trip")
	} else {
		args = append(args, "--no-round-trip")
	}
	if cfg.IncludeFirstMessage {
		args = append(args, "--include-first-message")
	}
	if cfg.SendDelay > 0 {
		args = append(args, "--send-delay", cfg.SendDelay.String())
	}

	switch cfg.Mechanism {
	case MechanismTCP:
		args = append(args, "--host", cfg.TransportAddr)
	case MechanismPMQ:
		args = append(args, "--ipc-path", cfg.TransportAddr, "--pmq-priority", strconv.Itoa(cfg.PMQPriority))
	case MechanismSHM:
		args = append(args, "--shm-name", cfg.TransportAddr)
	default:
		args = append(args, "--ipc-path", cfg.TransportAddr)
	}

	if cfg.DeadlineClass != nil {
		args = append(args, "--deadline-class", string(*cfg.DeadlineClass))
	}
	if len(cfg.Percentiles) > 0 {
		parts := make([]string, len(cfg.Percentiles))
		for i, p := range cfg.Percentiles {
			parts[i] = strconv.FormatFloat(p, 'g', -1, 64)
		}
		args = append(args, "--percentiles", strings.Join(parts, ","))
	}
	if cfg.HasServerAffinity {
		args = append(args, "--server-affinity", strconv.Itoa(cfg.ServerAffinity))
	}
	if cfg.HasClientAffinity {
		args = append(args, "--client-affinity", strconv.Itoa(cfg.ClientAffinity))
	}
	return args
}

// RunHost runs the driving ("Host") side of a cross-process test: it spawns
// the counterpart binary in the passive ("Client") role, waits for its
// readiness handshake, runs the round-trip requester itself (it alone needs
// to measure that direction) and drives the one-way sender, then reads back
// the child's one-way measurement report before tearing the child down.
func RunHost(ctx context.Context, cfg TestConfig, coordCfg coordinator.Config, streams Streams) (oneWay, roundTrip *DirectionOutcome, runErr error) {
	workers := EffectiveConcurrency(cfg)

	child, err := coordinator.Spawn(ctx, coordCfg, ChildArgs(cfg)...)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if tdErr := child.Teardown(coordCfg); tdErr != nil {
			logging.L().Warn("bench: child teardown reported an error", zap.Error(tdErr))
		}
	}()

	if cfg.RoundTrip {
		roundTrip, err = runRoundTripHost(ctx, cfg, workers, streams.RoundTrip)
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.OneWay {
		oneWay, err = runOneWaySendOnlyHost(ctx, cfg, workers)
		if err != nil {
			return oneWay, roundTrip, err
		}
	}

	// The passive child only writes its one-way report after observing
	// every worker's Terminate; send those now via the round-trip/one-way
	// loops already having done so, then read the report line.
	if cfg.OneWay {
		report, rerr := ReadChildReport(child.Stdout)
		if rerr != nil {
			return oneWay, roundTrip, transport.WithKind(errors.Wrap(rerr, "bench: read child one-way report"), transport.KindIoError)
		}
		if report.Err != "" {
			return oneWay, roundTrip, transport.WithKind(errors.Newf("bench: child reported one-way error: %s", report.Err), transport.KindIoError)
		}
		oneWay.summary = report.OneWaySummary
		oneWay.totalMessages = report.OneWayReceived
		oneWay.totalBytes = report.OneWayBytes
		oneWay.dropped = report.OneWayDropped
	}

	return oneWay, roundTrip, nil
}

func runOneWaySendOnlyHost(ctx context.Context, cfg TestConfig, workers int) (*DirectionOutcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	var totalMessages, totalBytes uint64
	var mu sync.Mutex
	start := time.Now()

	for w := 0; w < workers; w++ {
		workerID := uint32(w)
		g.Go(func() error {
			conn, err := dialFor(gctx, cfg, workerID)
			if err != nil {
				return err
			}
			defer conn.Close()
			sent, bytes, err := RunOneWaySender(gctx, conn, cfg, workerID)
			mu.Lock()
			totalMessages += sent
			totalBytes += bytes
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &DirectionOutcome{totalMessages: totalMessages, totalBytes: totalBytes, elapsed: time.Since(start)}, nil
}

func runRoundTripHost(ctx context.Context, cfg TestConfig, workers int, sink *latency.Sink) (*DirectionOutcome, error) {
	registry := stats.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)
	var totalMessages, totalBytes uint64
	var mu sync.Mutex
	start := time.Now()

	for w := 0; w < workers; w++ {
		workerID := uint32(w)
		g.Go(func() error {
			conn, err := dialFor(gctx, cfg, workerID)
			if err != nil {
				return err
			}
			defer conn.Close()
			hist := registry.ForWorker(workerID)
			sent, bytes, err := RunRoundTripRequester(gctx, conn, cfg, workerID, hist, sink)
			mu.Lock()
			totalMessages += sent
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
	return &DirectionOutcome{registry: registry, totalMessages: totalMessages, totalBytes: totalBytes, dropped: dropped, elapsed: time.Since(start)}, nil
}

// RunClient runs the passive ("Client") side of a cross-process test: bind
// every worker's listener, signal readiness once all are bound, then run
// the replier (round-trip) and/or receiver (one-way) per worker. Once every
// worker's peer has sent Terminate, it writes the one-way ChildReport line
// to stdout (round-trip needs none — the host measures that side directly)
// and returns. Per-sample streaming output is a host-side-only feature: the
// child ships back a merged histogram summary, never raw samples, so it
// never allocates a latency.Sink here.
func RunClient(ctx context.Context, cfg TestConfig, stdout io.Writer) error {
	workers := EffectiveConcurrency(cfg)

	listeners := make([]transport.Listener, workers)
	for w := 0; w < workers; w++ {
		ln, err := listenFor(cfg, uint32(w))
		if err != nil {
			for _, prior := range listeners[:w] {
				if prior != nil {
					prior.Close()
				}
			}
			return err
		}
		listeners[w] = ln
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	if err := coordinator.SignalReady(stdout); err != nil {
		return err
	}

	registry := stats.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)
	var oneWayReceived, oneWayBytes uint64
	var mu sync.Mutex

	for w := 0; w < workers; w++ {
		workerID := uint32(w)
		ln := listeners[w]
		g.Go(func() error {
			conn, err := ln.Accept(gctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if cfg.RoundTrip {
				if err := RunRoundTripReplier(gctx, conn, workerID); err != nil {
					return err
				}
			}
			if cfg.OneWay {
				hist := registry.ForWorker(workerID)
				received, bytes, err := RunOneWayReceiver(gctx, conn, cfg, workerID, hist, nil)
				mu.Lock()
				oneWayReceived += received
				oneWayBytes += bytes
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	runErr := g.Wait()

	if !cfg.OneWay {
		return runErr
	}

	report := ChildReport{OneWayReceived: oneWayReceived, OneWayBytes: oneWayBytes}
	if runErr != nil {
		report.Err = runErr.Error()
	} else {
		summary := registry.Merge(cfg.Percentiles)
		report.OneWaySummary = &summary
	}
	if err := WriteChildReport(stdout, report); err != nil {
		return transport.WithKind(errors.Wrap(err, "bench: write child report"), transport.KindIoError)
	}
	return runErr
}
