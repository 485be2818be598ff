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

// Package shm implements the single-producer/single-consumer shared-memory
// ring transport: a named segment holding a cache-line-aligned control
// header followed by a byte ring, with length-prefixed framing, wrap
// records, and spin-backoff-then-futex backpressure.
package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

const (
	// SegmentMagic identifies a segment created by this package.
	SegmentMagic = uint32(0x53484d31) // "SHM1"

	// SegmentVersion is the current control-header layout version.
	SegmentVersion = uint32(1)

	// HeaderSize is the cache-line-aligned control header size in bytes.
	HeaderSize = 64

	// MinRingCapacity is the smallest ring byte size this package will create.
	MinRingCapacity = 4096

	// DefaultRingCapacity is used when the caller does not request a size.
	DefaultRingCapacity = 1 << 20 // 1MiB
)

// Header is the control header at the start of every segment: magic,
// version, capacity, head, tail, producer_present, consumer_present,
// backpressure_warned, plus a data/space sequence pair used only as futex
// wait words for the spin-then-park backoff (never consulted for ring
// correctness, which rests entirely on head/tail), padded to a cache line.
type Header struct {
	magic              uint32
	version            uint32
	capacity           uint64
	head               uint64
	tail               uint64
	producerPresent    uint32
	consumerPresent    uint32
	backpressureWarned uint32
	dataSeq            uint32
	spaceSeq           uint32
	_                  [12]byte // pad to 64 bytes
}

func loadUint32(p *uint32) uint32        { return atomic.LoadUint32(p) }
func atomicAddUint32(p *uint32, d uint32) uint32 { return atomic.AddUint32(p, d) }

func (h *Header) Magic() uint32   { return atomic.LoadUint32(&h.magic) }
func (h *Header) Version() uint32 { return atomic.LoadUint32(&h.version) }
func (h *Header) Capacity() uint64 { return atomic.LoadUint64(&h.capacity) }

// Head returns the writer-owned byte offset with acquire semantics.
func (h *Header) Head() uint64 { return atomic.LoadUint64(&h.head) }

// PublishHead stores the new head with release semantics (the only writer
// of this field is the producer; atomic store on amd64/arm64 is a release).
func (h *Header) PublishHead(v uint64) { atomic.StoreUint64(&h.head, v) }

// Tail returns the reader-owned byte offset with acquire semantics.
func (h *Header) Tail() uint64 { return atomic.LoadUint64(&h.tail) }

// PublishTail stores the new tail with release semantics.
func (h *Header) PublishTail(v uint64) { atomic.StoreUint64(&h.tail, v) }

func (h *Header) ProducerPresent() bool { return atomic.LoadUint32(&h.producerPresent) != 0 }
func (h *Header) ConsumerPresent() bool { return atomic.LoadUint32(&h.consumerPresent) != 0 }

// ClaimProducer atomically claims the producer slot, returning false if
// another producer already holds it.
func (h *Header) ClaimProducer() bool {
	return atomic.CompareAndSwapUint32(&h.producerPresent, 0, 1)
}

// ClaimConsumer atomically claims the consumer slot, returning false if
// another consumer already holds it.
func (h *Header) ClaimConsumer() bool {
	return atomic.CompareAndSwapUint32(&h.consumerPresent, 0, 1)
}

func (h *Header) ReleaseProducer() { atomic.StoreUint32(&h.producerPresent, 0) }
func (h *Header) ReleaseConsumer() { atomic.StoreUint32(&h.consumerPresent, 0) }

// WarnBackpressureOnce returns true exactly once across all callers, the
// first time backpressure is observed, so the operator warning logs once.
func (h *Header) WarnBackpressureOnce() bool {
	return atomic.CompareAndSwapUint32(&h.backpressureWarned, 0, 1)
}

// Used returns head - tail, the number of bytes currently in the ring.
func (h *Header) Used() uint64 { return h.Head() - h.Tail() }

// Free returns capacity - used.
func (h *Header) Free() uint64 { return h.Capacity() - h.Used() }

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uint64) bool { return n > 0 && n&(n-1) == 0 }

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// RingCapacityFor rounds a requested buffer size up to a power of two no
// smaller than MinRingCapacity.
func RingCapacityFor(requested uint64) uint64 {
	cap := NextPowerOfTwo(requested)
	if cap < MinRingCapacity {
		cap = MinRingCapacity
	}
	return cap
}

// SegmentSize returns the total mapped size (header + ring) for a capacity.
func SegmentSize(capacity uint64) uint64 { return uint64(HeaderSize) + capacity }

// ValidateHeader checks magic, version, and capacity invariants on an
// already-mapped header, used when opening a segment created by a peer.
func ValidateHeader(h *Header) error {
	if h.Magic() != SegmentMagic {
		return fmt.Errorf("shm: bad magic %#x, expected %#x", h.Magic(), SegmentMagic)
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("shm: unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}
	if !IsPowerOfTwo(h.Capacity()) || h.Capacity() < MinRingCapacity {
		return fmt.Errorf("shm: invalid ring capacity %d", h.Capacity())
	}
	return nil
}

// unmapMemory is set by the platform-specific mmap file.
var unmapMemory func([]byte) error

// Segment is a memory-mapped named shared-memory segment: a control header
// followed by its data ring.
type Segment struct {
	File *os.File
	Mem  []byte
	H    *Header
	Path string
	Name string
}

// header reinterprets the start of Mem as a *Header. Valid only while Mem is
// mapped.
func headerOf(mem []byte) *Header {
	return (*Header)(unsafe.Pointer(&mem[0]))
}

// dataPtr returns the base pointer of the ring's data area.
func dataPtr(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(&mem[0])) + uintptr(HeaderSize))
}

// Close unmaps the segment and closes its backing file. It does not remove
// the named segment from the filesystem; callers that own cleanup call
// RemoveSegment explicitly.
func (s *Segment) Close() error {
	var firstErr error
	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}
	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}
	return firstErr
}

// segmentDir returns the preferred and fallback directories for named
// segments, preferring tmpfs-backed /dev/shm when available.
func segmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func segmentPath(name string) string {
	return segmentDir() + "/rusty_comms_shm_" + name
}

// RemoveSegment unlinks a named segment's backing file from both of its
// possible locations. Used on startup pre-clean and on shutdown.
func RemoveSegment(name string) error {
	paths := []string{
		"/dev/shm/rusty_comms_shm_" + name,
		os.TempDir() + "/rusty_comms_shm_" + name,
	}
	var lastErr error
	for _, p := range paths {
		if err := os.Remove(p); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// SegmentExists reports whether a named segment's backing file exists.
func SegmentExists(name string) bool {
	for _, p := range []string{
		"/dev/shm/rusty_comms_shm_" + name,
		os.TempDir() + "/rusty_comms_shm_" + name,
	} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
