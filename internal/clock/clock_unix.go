//go:build linux || darwin

package clock

import "golang.org/x/sys/unix"

// MonotonicNanos reads CLOCK_MONOTONIC directly rather than through
// time.Now(), whose monotonic reading is offset by a per-process constant
// and so is not comparable across a spawned child's process boundary.
func MonotonicNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
