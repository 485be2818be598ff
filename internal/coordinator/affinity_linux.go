//go:build linux

package coordinator

import (
	"golang.org/x/sys/unix"

	"github.com/shirou/gopsutil/v3/cpu"
)

// PinCurrentThread pins the calling OS thread to core. The caller must have
// already locked the goroutine to its OS thread (runtime.LockOSThread)
// since affinity is a thread, not a process, property. Failure is logged as
// a warning and never returned, matching the spec's "not fatal" policy.
func PinCurrentThread(core int) {
	if count, err := cpu.Counts(true); err == nil && core >= count {
		affinityWarning(core, errUnreasonableCore(core, count))
		return
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		affinityWarning(core, err)
	}
}

type coreRangeError struct {
	core, count int
}

func (e coreRangeError) Error() string {
	return "requested core out of range for this host"
}

func errUnreasonableCore(core, count int) error { return coreRangeError{core: core, count: count} }
