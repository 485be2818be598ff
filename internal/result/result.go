// Package result assembles per-test results into the final JSON document:
// config snapshot, per-direction latency/throughput, a cross-mechanism
// summary, and (optionally) automotive deadline-compliance classification.
package result

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/redhat-performance/rusty-comms/internal/bench"
	"github.com/redhat-performance/rusty-comms/internal/result/automotive"
	"github.com/redhat-performance/rusty-comms/internal/stats"
	"github.com/redhat-performance/rusty-comms/internal/sysinfo"
)

// Status is a test's terminal state.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// DirectionResult is one direction's (one-way or round-trip) latency and
// throughput outcome.
type DirectionResult struct {
	Latency    LatencySummary    `json:"latency"`
	Throughput ThroughputSummary `json:"throughput"`
}

// LatencySummary is the post-hoc statistics block computed from the merged
// per-worker histogram.
type LatencySummary struct {
	MinNs       int64               `json:"min_ns"`
	MaxNs       int64               `json:"max_ns"`
	MeanNs      float64             `json:"mean_ns"`
	MedianNs    int64               `json:"median_ns"`
	Percentiles []PercentileValue   `json:"percentiles"`
}

// PercentileValue pairs one requested percentile with its latency value.
type PercentileValue struct {
	Percentile float64 `json:"percentile"`
	ValueNs    int64   `json:"value_ns"`
}

// ThroughputSummary is the message/byte rate computed over a direction's
// measured wall-clock duration.
type ThroughputSummary struct {
	MessagesPerSecond float64 `json:"messages_per_second"`
	BytesPerSecond    float64 `json:"bytes_per_second"`
	TotalMessages     uint64  `json:"total_messages"`
	TotalBytes        uint64  `json:"total_bytes"`
}

// TestSummary is the rollup embedded in every TestResult, summing across
// whichever directions ran.
type TestSummary struct {
	TotalMessagesSent       uint64  `json:"total_messages_sent"`
	TotalBytesTransferred   uint64  `json:"total_bytes_transferred"`
	AverageThroughputMbps   float64 `json:"average_throughput_mbps"`
	P95LatencyNs            int64   `json:"p95_latency_ns"`
	P99LatencyNs            int64   `json:"p99_latency_ns"`
}

// TestResult is one mechanism's complete outcome.
type TestResult struct {
	Mechanism bench.Mechanism `json:"mechanism"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`

	TestConfig bench.TestConfig `json:"test_config"`

	OneWayResult   *DirectionResult `json:"one_way_results,omitempty"`
	RoundTripResult *DirectionResult `json:"round_trip_results,omitempty"`

	Summary TestSummary `json:"summary"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	DroppedSamples uint64 `json:"dropped_samples,omitempty"`

	DeadlineCompliance *automotive.Compliance `json:"deadline_compliance,omitempty"`
}

// Failed builds a TestResult for a mechanism whose test construction or
// execution failed outright, preserving the error's kind for the JSON
// result and console summary per the error-handling contract.
func Failed(cfg bench.TestConfig, err error, kind string, startedAt time.Time) TestResult {
	return TestResult{
		Mechanism:  cfg.Mechanism,
		Status:     StatusFailed,
		Error:      err.Error(),
		ErrorKind:  kind,
		TestConfig: cfg,
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
	}
}

// DirectionResultFrom converts a stats.Summary plus the raw message/byte
// counts and elapsed duration into the JSON-facing DirectionResult shape.
func DirectionResultFrom(summary stats.Summary, totalMessages, totalBytes uint64, elapsed time.Duration) DirectionResult {
	pvs := make([]PercentileValue, len(summary.Percentiles))
	for i, p := range summary.Percentiles {
		pvs[i] = PercentileValue{Percentile: p.Percentile, ValueNs: p.ValueNs}
	}

	secs := elapsed.Seconds()
	var msgsPerSec, bytesPerSec float64
	if secs > 0 {
		msgsPerSec = float64(totalMessages) / secs
		bytesPerSec = float64(totalBytes) / secs
	}

	return DirectionResult{
		Latency: LatencySummary{
			MinNs:       summary.MinNs,
			MaxNs:       summary.MaxNs,
			MeanNs:      summary.MeanNs,
			MedianNs:    summary.MedianNs,
			Percentiles: pvs,
		},
		Throughput: ThroughputSummary{
			MessagesPerSecond: msgsPerSec,
			BytesPerSecond:    bytesPerSec,
			TotalMessages:     totalMessages,
			TotalBytes:        totalBytes,
		},
	}
}

// percentileValue looks up one requested percentile's value from a
// direction result, returning 0 if it was never computed (the caller asked
// for a percentile outside the configured set).
func percentileValue(d *DirectionResult, percentile float64) int64 {
	if d == nil {
		return 0
	}
	for _, pv := range d.Latency.Percentiles {
		if pv.Percentile == percentile {
			return pv.ValueNs
		}
	}
	return 0
}

// Completed assembles a successful TestResult from its one-way and/or
// round-trip direction results (either may be nil if that direction was
// disabled), filling in the rollup summary and, when cfg.DeadlineClass is
// set, the automotive compliance verdict.
func Completed(cfg bench.TestConfig, oneWay, roundTrip *DirectionResult, droppedSamples uint64, startedAt, endedAt time.Time) TestResult {
	r := TestResult{
		Mechanism:       cfg.Mechanism,
		Status:          StatusCompleted,
		TestConfig:      cfg,
		OneWayResult:    oneWay,
		RoundTripResult: roundTrip,
		DroppedSamples:  droppedSamples,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
	}

	var totalMsgs, totalBytes uint64
	var totalBps float64
	if oneWay != nil {
		totalMsgs += oneWay.Throughput.TotalMessages
		totalBytes += oneWay.Throughput.TotalBytes
		totalBps += oneWay.Throughput.BytesPerSecond
	}
	if roundTrip != nil {
		totalMsgs += roundTrip.Throughput.TotalMessages
		totalBytes += roundTrip.Throughput.TotalBytes
		totalBps += roundTrip.Throughput.BytesPerSecond
	}

	p95 := percentileValue(oneWay, 95)
	if p95 == 0 {
		p95 = percentileValue(roundTrip, 95)
	}
	p99 := percentileValue(oneWay, 99)
	if p99 == 0 {
		p99 = percentileValue(roundTrip, 99)
	}

	r.Summary = TestSummary{
		TotalMessagesSent:     totalMsgs,
		TotalBytesTransferred: totalBytes,
		AverageThroughputMbps: (totalBps * 8) / 1_000_000,
		P95LatencyNs:          p95,
		P99LatencyNs:          p99,
	}

	if cfg.DeadlineClass != nil && roundTrip != nil {
		p999 := percentileValue(roundTrip, 99.9)
		compliance := automotive.Evaluate(*cfg.DeadlineClass, p999, totalMsgs, droppedSamples)
		r.DeadlineCompliance = &compliance
	}

	return r
}

// Metadata is the final JSON's top-level metadata block.
type Metadata struct {
	Version     string       `json:"version"`
	Timestamp   time.Time    `json:"timestamp"`
	TotalTests  int          `json:"total_tests"`
	SystemInfo  sysinfo.Info `json:"system_info"`
	RunID       uuid.UUID    `json:"run_id"`
}

// Summary is the final JSON's cross-mechanism summary: the one-way
// mechanism with the highest message rate, and the round-trip mechanism
// with the lowest median latency.
type Summary struct {
	FastestMechanism      bench.Mechanism `json:"fastest_mechanism,omitempty"`
	LowestLatencyMechanism bench.Mechanism `json:"lowest_latency_mechanism,omitempty"`
}

// Document is the complete final JSON document written once per run.
type Document struct {
	Metadata Metadata     `json:"metadata"`
	Results  []TestResult `json:"results"`
	Summary  Summary      `json:"summary"`
}

// Version is the result schema's reported version.
const Version = "1.0"

// Aggregator accumulates TestResults across mechanisms and renders the
// final Document. It is not safe for concurrent use; the driver appends one
// result per mechanism sequentially.
type Aggregator struct {
	runID   uuid.UUID
	results []TestResult
}

// NewAggregator returns an empty Aggregator with a freshly generated run id.
func NewAggregator() *Aggregator {
	return &Aggregator{runID: uuid.New()}
}

// RunID is this run's generated correlation id.
func (a *Aggregator) RunID() uuid.UUID { return a.runID }

// Add appends one mechanism's result, in either the Completed or Failed
// state. The driver calls this once per mechanism regardless of outcome so
// continue_on_error can still produce a full document.
func (a *Aggregator) Add(r TestResult) { a.results = append(a.results, r) }

// Results returns every result added so far, in call order.
func (a *Aggregator) Results() []TestResult { return a.results }

// AnyFailed reports whether any accumulated result failed — the driver uses
// this to decide the process exit code when continue_on_error is not set.
func (a *Aggregator) AnyFailed() bool {
	for _, r := range a.results {
		if r.Status == StatusFailed {
			return true
		}
	}
	return false
}

// fastestMechanism picks the one-way result with the highest messages/sec
// among completed tests, per the "highest messages/second for one-way"
// selection rule.
func fastestMechanism(results []TestResult) bench.Mechanism {
	var best bench.Mechanism
	var bestRate float64
	for _, r := range results {
		if r.Status != StatusCompleted || r.OneWayResult == nil {
			continue
		}
		rate := r.OneWayResult.Throughput.MessagesPerSecond
		if best == "" || rate > bestRate {
			best = r.Mechanism
			bestRate = rate
		}
	}
	return best
}

// lowestLatencyMechanism picks the round-trip result with the lowest median
// (P50) latency among completed tests.
func lowestLatencyMechanism(results []TestResult) bench.Mechanism {
	var best bench.Mechanism
	var bestMedian int64
	for _, r := range results {
		if r.Status != StatusCompleted || r.RoundTripResult == nil {
			continue
		}
		median := r.RoundTripResult.Latency.MedianNs
		if best == "" || median < bestMedian {
			best = r.Mechanism
			bestMedian = median
		}
	}
	return best
}

// Build renders the final Document from everything accumulated so far.
func (a *Aggregator) Build(sysInfo sysinfo.Info) Document {
	return Document{
		Metadata: Metadata{
			Version:    Version,
			Timestamp:  time.Now(),
			TotalTests: len(a.results),
			SystemInfo: sysInfo,
			RunID:      a.runID,
		},
		Results: a.results,
		Summary: Summary{
			FastestMechanism:       fastestMechanism(a.results),
			LowestLatencyMechanism: lowestLatencyMechanism(a.results),
		},
	}
}

// WriteJSON marshals doc as indented JSON to w, the final-JSON writer's
// sole responsibility (the caller opens/truncates the --output-file path).
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
