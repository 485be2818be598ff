//go:build !linux && !darwin

package clock

import "time"

// MonotonicNanos falls back to the wall-clock time.Now().UnixNano() on
// platforms without a CLOCK_MONOTONIC binding. Cross-process comparisons are not
// meaningful here; this path only matters for in-process tests on such
// platforms, never for the cross-process one-way measurement.
func MonotonicNanos() int64 {
	return time.Now().UnixNano()
}
