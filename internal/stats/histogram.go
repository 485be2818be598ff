// Package stats wraps an HDR histogram to produce the percentile/mean/stddev
// outputs the result aggregator needs, with per-worker accumulation merged
// once at end-of-test.
package stats

import (
	"sync"

	"github.com/codahale/hdrhistogram"
)

const (
	lowestDiscernibleValue = 1
	highestTrackableValue  = 60_000_000_000 // 60s in nanoseconds
	significantFigures     = 3
)

// DefaultPercentiles is the percentile set reported unless the caller
// configures a different one.
var DefaultPercentiles = []float64{50, 95, 99, 99.9}

// Histogram accumulates one worker's latency samples in nanoseconds. It is
// not safe for concurrent use — each worker owns one and the driver merges
// them under a lock exactly once at end-of-test.
type Histogram struct {
	h         *hdrhistogram.Histogram
	saturated bool
}

// New returns an empty histogram over the harness's fixed value range.
func New() *Histogram {
	return &Histogram{h: hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantFigures)}
}

// Record adds one latency sample in nanoseconds, clamping to the histogram's
// range and setting the saturated flag if the value was clamped at the
// ceiling (values clamped at the floor are ordinary cold-start noise, not
// reported as saturation).
func (hg *Histogram) Record(latencyNs int64) {
	v := latencyNs
	if v < lowestDiscernibleValue {
		v = lowestDiscernibleValue
	}
	if v > highestTrackableValue {
		v = highestTrackableValue
		hg.saturated = true
	}
	_ = hg.h.RecordValue(v)
}

// Saturated reports whether any recorded sample was clamped at the ceiling.
func (hg *Histogram) Saturated() bool { return hg.saturated }

// Registry owns one Histogram per worker and produces the merged Summary at
// end-of-test, grounded on the per-worker-accumulate/merge-once-under-lock
// pattern used for load-test latency registries elsewhere in the ecosystem.
type Registry struct {
	mu   sync.Mutex
	byID map[uint32]*Histogram
}

// NewRegistry returns an empty per-worker histogram registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Histogram)}
}

// ForWorker returns the Histogram for workerID, creating it on first use.
// The returned Histogram is only safe for use by that one worker goroutine.
func (r *Registry) ForWorker(workerID uint32) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	hg, ok := r.byID[workerID]
	if !ok {
		hg = New()
		r.byID[workerID] = hg
	}
	return hg
}

// Summary is the post-hoc statistics the result aggregator embeds in a
// TestResult's latency block.
type Summary struct {
	MinNs       int64
	MaxNs       int64
	MeanNs      float64
	MedianNs    int64
	StdDevNs    float64
	Percentiles []PercentileValue
	Saturated   bool
	SampleCount int64
}

// PercentileValue pairs a requested percentile with its latency value.
type PercentileValue struct {
	Percentile float64
	ValueNs    int64
}

// Merge combines every worker's histogram into one merged histogram and
// computes the Summary over it, matching the percentiles a single histogram
// built from the concatenated samples would produce (HDR histogram merge is
// associative: merging per-bucket counts is equivalent to counting from the
// union of samples).
func (r *Registry) Merge(percentiles []float64) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantFigures)
	saturated := false
	for _, hg := range r.byID {
		merged.Merge(hg.h)
		saturated = saturated || hg.saturated
	}

	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	pvs := make([]PercentileValue, 0, len(percentiles))
	for _, p := range percentiles {
		pvs = append(pvs, PercentileValue{Percentile: p, ValueNs: merged.ValueAtQuantile(p)})
	}

	return Summary{
		MinNs:       merged.Min(),
		MaxNs:       merged.Max(),
		MeanNs:      merged.Mean(),
		MedianNs:    merged.ValueAtQuantile(50),
		StdDevNs:    merged.StdDev(),
		Percentiles: pvs,
		Saturated:   saturated,
		SampleCount: merged.TotalCount(),
	}
}
