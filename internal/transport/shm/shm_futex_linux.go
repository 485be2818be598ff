//go:build linux && (amd64 || arm64)

/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWaitPrivate = 128 // FUTEX_WAIT | FUTEX_PRIVATE_FLAG
	futexWakePrivate = 129 // FUTEX_WAKE | FUTEX_PRIVATE_FLAG
)

// futexWaitTimeout parks the calling thread until the value at addr changes
// from val, another thread wakes it, or timeoutNs elapses. It should only be
// called after re-checking the logical condition under *addr == val; callers
// must re-check after every return since wakes may be spurious.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsPtr unsafe.Pointer
	if timeoutNs > 0 {
		ts := unix.Timespec{Sec: timeoutNs / 1e9, Nsec: timeoutNs % 1e9}
		tsPtr = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitPrivate,
		uintptr(val),
		uintptr(tsPtr),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n threads parked on addr via futexWaitTimeout.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakePrivate,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
