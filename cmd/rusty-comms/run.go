package main

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/redhat-performance/rusty-comms/internal/bench"
	"github.com/redhat-performance/rusty-comms/internal/coordinator"
	"github.com/redhat-performance/rusty-comms/internal/latency"
	"github.com/redhat-performance/rusty-comms/internal/logging"
	"github.com/redhat-performance/rusty-comms/internal/result"
	"github.com/redhat-performance/rusty-comms/internal/sysinfo"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// streamPathTemplate is the {{.RunID}}/{{.Mechanism}}/{{.Direction}}
// substitution available to --streaming-output-json/--streaming-output-csv
// path templates, letting one flag value fan out across every mechanism and
// direction in a multi-mechanism run.
type streamPathTemplate struct {
	RunID     string
	Mechanism string
	Direction string
}

func renderStreamPath(pathTemplate, runID string, mechanism bench.Mechanism, direction string) (string, error) {
	tmpl, err := template.New("streaming-output-path").Parse(pathTemplate)
	if err != nil {
		return "", transport.WithKind(errors.Wrap(err, "parse streaming output path template"), transport.KindConfigInvalid)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, streamPathTemplate{RunID: runID, Mechanism: string(mechanism), Direction: direction}); err != nil {
		return "", transport.WithKind(errors.Wrap(err, "render streaming output path template"), transport.KindConfigInvalid)
	}
	return buf.String(), nil
}

// openStreamWriter opens one streaming-output destination (if its path
// template is non-empty) and starts its drain goroutine against sink,
// returning a cleanup that blocks until the writer has flushed and the file
// is closed.
func openStreamWriter(pathTemplate string, runID string, mechanism bench.Mechanism, direction string, csv bool, sink *latency.Sink) (func() error, error) {
	if pathTemplate == "" {
		return func() error { return nil }, nil
	}

	path, err := renderStreamPath(pathTemplate, runID, mechanism, direction)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, transport.WithKind(errors.Wrapf(err, "open streaming output %s", path), transport.KindIoError)
	}

	done := make(chan error, 1)
	go func() {
		if csv {
			done <- latency.NewCSVStreamWriter(f).Run(sink)
		} else {
			done <- latency.NewJSONStreamWriter(f).Run(sink)
		}
	}()

	return func() error {
		runErr := <-done
		closeErr := f.Close()
		if runErr != nil {
			return runErr
		}
		return closeErr
	}, nil
}

// directionStreaming wires one direction's optional JSON/CSV streaming
// output. When both formats are requested for the same direction, the
// worker-facing sink is relayed to two secondary sinks (one per writer) by
// a small forwarding goroutine, since each writer drains its own *Sink.
func directionStreaming(f *flags, runID string, mechanism bench.Mechanism, direction string) (*latency.Sink, func() error, error) {
	wantJSON := f.streamingOutputJSON != ""
	wantCSV := f.streamingOutputCSV != ""
	if !wantJSON && !wantCSV {
		return nil, func() error { return nil }, nil
	}

	primary := latency.NewSink(f.bufferSize)

	var jsonSink, csvSink *latency.Sink
	if wantJSON {
		jsonSink = latency.NewSink(f.bufferSize)
	}
	if wantCSV {
		csvSink = latency.NewSink(f.bufferSize)
	}

	relayDone := make(chan struct{})
	go func() {
		for s := range primary.Samples() {
			if jsonSink != nil {
				jsonSink.TryPush(s)
			}
			if csvSink != nil {
				csvSink.TryPush(s)
			}
		}
		if jsonSink != nil {
			jsonSink.Close()
		}
		if csvSink != nil {
			csvSink.Close()
		}
		close(relayDone)
	}()

	jsonCleanup, err := openStreamWriter(f.streamingOutputJSON, runID, mechanism, direction, false, jsonSink)
	if err != nil {
		return nil, nil, err
	}
	csvCleanup, err := openStreamWriter(f.streamingOutputCSV, runID, mechanism, direction, true, csvSink)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() error {
		<-relayDone
		if err := jsonCleanup(); err != nil {
			return err
		}
		return csvCleanup()
	}
	return primary, cleanup, nil
}

// runInProcessOrHost runs one mechanism's test in in-process or host mode,
// opening any requested streaming-output sinks for the directions that run
// and assembling the completed result.
func runInProcessOrHost(ctx context.Context, f *flags, cfg bench.TestConfig, runID string) (result.TestResult, error) {
	startedAt := time.Now()

	var oneWaySink, roundTripSink *latency.Sink
	var cleanups []func() error
	if cfg.OneWay {
		sink, cleanup, err := directionStreaming(f, runID, cfg.Mechanism, "one_way")
		if err != nil {
			return result.TestResult{}, err
		}
		oneWaySink = sink
		cleanups = append(cleanups, cleanup)
	}
	if cfg.RoundTrip {
		sink, cleanup, err := directionStreaming(f, runID, cfg.Mechanism, "round_trip")
		if err != nil {
			return result.TestResult{}, err
		}
		roundTripSink = sink
		cleanups = append(cleanups, cleanup)
	}
	defer func() {
		for _, c := range cleanups {
			_ = c()
		}
	}()

	streams := bench.Streams{OneWay: oneWaySink, RoundTrip: roundTripSink}

	var err error
	var oneWayOutcome, roundTripOutcome *bench.DirectionOutcome
	switch f.mode {
	case "in-process":
		oneWayOutcome, roundTripOutcome, err = bench.RunInProcess(ctx, cfg, streams)
	case "host":
		oneWayOutcome, roundTripOutcome, err = bench.RunHost(ctx, cfg, coordinator.DefaultConfig(), streams)
	default:
		err = errors.Newf("rusty-comms: unsupported --mode %q for a driving run", f.mode)
	}
	if err != nil {
		return result.Failed(cfg, err, string(transport.KindOf(err)), startedAt), nil
	}

	var oneWayResult, roundTripResult *result.DirectionResult
	var dropped uint64
	if oneWayOutcome != nil {
		dr := result.DirectionResultFrom(oneWayOutcome.Summary(cfg.Percentiles), oneWayOutcome.TotalMessages(), oneWayOutcome.TotalBytes(), oneWayOutcome.Elapsed())
		oneWayResult = &dr
		dropped += oneWayOutcome.Dropped()
	}
	if roundTripOutcome != nil {
		dr := result.DirectionResultFrom(roundTripOutcome.Summary(cfg.Percentiles), roundTripOutcome.TotalMessages(), roundTripOutcome.TotalBytes(), roundTripOutcome.Elapsed())
		roundTripResult = &dr
		dropped += roundTripOutcome.Dropped()
	}

	return result.Completed(cfg, oneWayResult, roundTripResult, dropped, startedAt, time.Now()), nil
}

// runClient runs the passive counterpart side spawned by a host process.
func runClient(ctx context.Context, cfg bench.TestConfig, stdout io.Writer) error {
	return bench.RunClient(ctx, cfg, stdout)
}

// maybePinAffinity locks the calling goroutine to its OS thread and pins it
// to the core requested for this process's role, a no-op if neither
// affinity flag applies to that role.
func maybePinAffinity(cfg bench.TestConfig, role coordinator.Role) {
	switch role {
	case coordinator.RoleHost:
		if cfg.HasClientAffinity {
			runtime.LockOSThread()
			coordinator.PinCurrentThread(cfg.ClientAffinity)
		}
	case coordinator.RoleClient:
		if cfg.HasServerAffinity {
			runtime.LockOSThread()
			coordinator.PinCurrentThread(cfg.ServerAffinity)
		}
	case coordinator.RoleInProcess:
		if cfg.HasServerAffinity {
			runtime.LockOSThread()
			coordinator.PinCurrentThread(cfg.ServerAffinity)
		}
	}
}

// writeFinalDocument renders doc as indented JSON to f.outputFile, or to
// stdout when no --output-file was given, then logs one summary line per
// mechanism.
func writeFinalDocument(f *flags, doc result.Document) error {
	var w io.Writer = os.Stdout
	var closer func() error
	if f.outputFile != "" {
		file, err := os.Create(f.outputFile)
		if err != nil {
			return transport.WithKind(errors.Wrapf(err, "create output file %s", f.outputFile), transport.KindIoError)
		}
		w = file
		closer = file.Close
	}
	if err := result.WriteJSON(w, doc); err != nil {
		return transport.WithKind(errors.Wrap(err, "write result JSON"), transport.KindIoError)
	}
	if closer != nil {
		if err := closer(); err != nil {
			return transport.WithKind(errors.Wrap(err, "close output file"), transport.KindIoError)
		}
	}

	for _, r := range doc.Results {
		logging.L().Info("rusty-comms: mechanism finished",
			zap.String("mechanism", string(r.Mechanism)),
			zap.String("status", string(r.Status)),
			zap.Int64("p95_ns", r.Summary.P95LatencyNs),
			zap.Uint64("dropped_samples", r.DroppedSamples))
	}
	return nil
}

// collectSystemInfo gathers host introspection for the final JSON's
// metadata.system_info block, bounded so a slow gopsutil call never stalls
// the process past a few seconds.
func collectSystemInfo(ctx context.Context) sysinfo.Info {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sysinfo.Collect(ctx)
}
