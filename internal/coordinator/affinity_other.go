//go:build !linux

package coordinator

import "errors"

// PinCurrentThread is a no-op outside Linux; CPU affinity pinning has no
// portable equivalent, and a failure to pin is a warning, not fatal.
func PinCurrentThread(core int) {
	affinityWarning(core, errors.New("affinity pinning unsupported on this platform"))
}
