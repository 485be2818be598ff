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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/redhat-performance/rusty-comms/internal/logging"
)

// wrapSentinel is the length-prefix value that marks a wrap record: the
// producer filled the remainder of the ring to the B-boundary and the
// consumer should skip to the next boundary without reading a payload.
const wrapSentinel = uint32(0xFFFFFFFF)

// lengthPrefixSize is the size in bytes of the frame's length prefix.
const lengthPrefixSize = 4

var (
	// ErrRingClosed is returned once a peer has gone away and no further
	// frames will be produced or consumed.
	ErrRingClosed = errors.New("shm: ring closed")

	// ErrFrameTooLarge is returned when a frame's size exceeds half the
	// ring's capacity, matching the producer's upfront size check.
	ErrFrameTooLarge = errors.New("shm: frame too large for ring capacity")

	// ErrPeerAbsent is returned when a producer tries to write into a ring
	// whose consumer slot was never claimed, or vice versa.
	ErrPeerAbsent = errors.New("shm: peer not present")
)

// spin-then-block backoff tuning: the backoff doubles each failed attempt,
// starting at spinBackoffFloor and capping at spinBackoffCeiling, after
// which the thread parks on the futex instead of burning CPU.
const (
	spinBackoffFloor   = 200 * time.Nanosecond
	spinBackoffCeiling = 50 * time.Microsecond
)

// Ring is the producer/consumer view over a segment's control header and
// data area. Exactly one producer and one consumer may operate on a given
// Ring at a time; ClaimProducer/ClaimConsumer on the Header enforce this.
type Ring struct {
	seg *Segment
	h   *Header
}

// NewRing wraps a segment's header and data area for producer/consumer use.
func NewRing(seg *Segment) *Ring {
	return &Ring{seg: seg, h: seg.H}
}

func (r *Ring) data() unsafe.Pointer { return dataPtr(r.seg.Mem) }

// writeAt copies p into the ring's data area starting at absolute byte
// offset pos (mod capacity), wrapping the copy across the boundary if
// needed. It never writes past the control-header-relative offset 0.
func (r *Ring) writeAt(pos uint64, p []byte) {
	cap := r.h.Capacity()
	off := pos % cap
	base := r.data()
	if off+uint64(len(p)) <= cap {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base)+uintptr(off))), len(p))
		copy(dst, p)
		return
	}
	first := cap - off
	dst1 := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base)+uintptr(off))), first)
	copy(dst1, p[:first])
	dst2 := unsafe.Slice((*byte)(base), uint64(len(p))-first)
	copy(dst2, p[first:])
}

// readAt copies len(p) bytes starting at absolute byte offset pos into p,
// wrapping the read across the boundary if needed.
func (r *Ring) readAt(pos uint64, p []byte) {
	cap := r.h.Capacity()
	off := pos % cap
	base := r.data()
	if off+uint64(len(p)) <= cap {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base)+uintptr(off))), len(p))
		copy(p, src)
		return
	}
	first := cap - off
	src1 := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base)+uintptr(off))), first)
	copy(p, src1)
	src2 := unsafe.Slice((*byte)(base), uint64(len(p))-first)
	copy(p[first:], src2)
}

// spinBackoff sleeps for an exponentially growing delay, capped at
// spinBackoffCeiling, and once the cap is reached parks on futexWaitTimeout
// for one delay per call instead. It returns the next delay to use; a futex
// error is ignored, since the caller re-checks the ring state after every
// step.
func spinBackoff(seq *uint32, seen uint32, delay time.Duration) time.Duration {
	if delay < spinBackoffCeiling {
		time.Sleep(delay)
		next := delay * 2
		if next > spinBackoffCeiling {
			next = spinBackoffCeiling
		}
		return next
	}
	_ = futexWaitTimeout(seq, seen, delay.Nanoseconds())
	return delay
}

// Send writes one length-prefixed frame (the serialized envelope) into the
// ring, inserting a wrap record if the frame would straddle the B-boundary,
// and spin-backs off under an absolute deadline if there isn't enough free
// space. ctx's deadline, if any, is the absolute deadline; a nil deadline
// waits indefinitely until the peer disappears.
func (r *Ring) Send(ctx context.Context, payload []byte) error {
	frameSize := uint64(lengthPrefixSize + len(payload))
	if frameSize > r.h.Capacity()/2 {
		return ErrFrameTooLarge
	}

	var header [lengthPrefixSize]byte
	delay := spinBackoffFloor
	warned := false

	for {
		if !r.h.ConsumerPresent() {
			return ErrPeerAbsent
		}

		head := r.h.Head()
		tail := r.h.Tail()
		used := head - tail
		free := r.h.Capacity() - used

		cap := r.h.Capacity()
		posInRing := head % cap
		remToEnd := cap - posInRing
		needsWrap := remToEnd < frameSize && remToEnd > 0

		required := frameSize
		if needsWrap {
			required += remToEnd // the wrap record consumes the tail slack too
		}

		if free >= required {
			if needsWrap {
				binary.LittleEndian.PutUint32(header[:], wrapSentinel)
				r.writeAt(head, header[:])
				head += remToEnd
			}
			binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
			r.writeAt(head, header[:])
			if len(payload) > 0 {
				r.writeAt(head+lengthPrefixSize, payload)
			}
			r.h.PublishHead(head + frameSize)
			if used == 0 {
				atomicAddUint32(&r.h.dataSeq, 1)
				futexWake(&r.h.dataSeq, 1)
			}
			return nil
		}

		if !warned && r.h.WarnBackpressureOnce() {
			warned = true
			logging.L().Warn("shm: ring full, producer waiting for free space")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
			return context.DeadlineExceeded
		}

		spaceSeq := r.h.SpaceSequence()
		delay = spinBackoff(&r.h.spaceSeq, spaceSeq, delay)
	}
}

// Recv reads one frame from the ring, transparently skipping wrap records,
// and spin-backs off under ctx's deadline if no data is available.
func (r *Ring) Recv(ctx context.Context) ([]byte, error) {
	var header [lengthPrefixSize]byte
	delay := spinBackoffFloor

	for {
		head := r.h.Head()
		tail := r.h.Tail()

		if head == tail {
			if !r.h.ProducerPresent() {
				return nil, ErrRingClosed
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
				return nil, context.DeadlineExceeded
			}
			dataSeq := r.h.DataSequence()
			delay = spinBackoff(&r.h.dataSeq, dataSeq, delay)
			continue
		}

		used := head - tail
		full := used == r.h.Capacity()

		r.readAt(tail, header[:])
		length := binary.LittleEndian.Uint32(header[:])
		if length == wrapSentinel {
			cap := r.h.Capacity()
			tail += cap - (tail % cap)
			r.h.PublishTail(tail)
			if full {
				atomicAddUint32(&r.h.spaceSeq, 1)
				futexWake(&r.h.spaceSeq, 1)
			}
			continue
		}

		payload := make([]byte, length)
		if length > 0 {
			r.readAt(tail+lengthPrefixSize, payload)
		}
		r.h.PublishTail(tail + uint64(lengthPrefixSize) + uint64(length))
		if full {
			atomicAddUint32(&r.h.spaceSeq, 1)
			futexWake(&r.h.spaceSeq, 1)
		}
		return payload, nil
	}
}

// Close releases whichever peer slot the caller holds and wakes the other
// side so it observes the departure instead of spinning forever.
func (r *Ring) Close(wasProducer bool) error {
	if wasProducer {
		r.h.ReleaseProducer()
	} else {
		r.h.ReleaseConsumer()
	}
	atomicAddUint32(&r.h.dataSeq, 1)
	atomicAddUint32(&r.h.spaceSeq, 1)
	futexWake(&r.h.dataSeq, 1)
	futexWake(&r.h.spaceSeq, 1)
	return nil
}

func (h *Header) DataSequence() uint32  { return loadUint32(&h.dataSeq) }
func (h *Header) SpaceSequence() uint32 { return loadUint32(&h.spaceSeq) }

// DebugState snapshots the ring for diagnostics and tests.
type DebugState struct {
	Capacity uint64
	Head     uint64
	Tail     uint64
	Used     uint64
}

func (r *Ring) DebugState() DebugState {
	head, tail := r.h.Head(), r.h.Tail()
	return DebugState{Capacity: r.h.Capacity(), Head: head, Tail: tail, Used: head - tail}
}

func (s DebugState) String() string {
	return fmt.Sprintf("used=%d/%d head=%d tail=%d", s.Used, s.Capacity, s.Head, s.Tail)
}
