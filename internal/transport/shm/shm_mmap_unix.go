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
	"os"

	"github.com/edsrzf/mmap-go"
)

func init() {
	unmapMemory = munmapImpl
}

// CreateSegment creates a new named shared-memory segment and initializes
// its control header with both peer slots unclaimed. It
// fails with os.ErrExist if a segment of that name is already present; the
// caller is expected to have pre-cleaned well-known names first.
func CreateSegment(name string, requestedCapacity uint64) (*Segment, error) {
	capacity := RingCapacityFor(requestedCapacity)
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	total := SegmentSize(capacity)
	if err := file.Truncate(int64(total)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: truncate segment: %w", err)
	}

	mem, err := mmapFile(file, int(total))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: mmap segment: %w", err)
	}

	h := headerOf(mem)
	h.magic = SegmentMagic
	h.version = SegmentVersion
	h.capacity = capacity
	h.head = 0
	h.tail = 0
	h.producerPresent = 0
	h.consumerPresent = 0
	h.backpressureWarned = 0

	return &Segment{File: file, Mem: mem, H: h, Path: path, Name: name}, nil
}

// OpenSegment opens an existing named segment and validates its header.
func OpenSegment(name string) (*Segment, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat segment file: %w", err)
	}
	if info.Size() < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("shm: segment file too small: %d bytes", info.Size())
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap segment: %w", err)
	}

	h := headerOf(mem)
	if err := ValidateHeader(h); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, err
	}

	return &Segment{File: file, Mem: mem, H: h, Path: path, Name: name}, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	m, err := mmap.MapRegion(file, size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return []byte(m), nil
}

func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	m := mmap.MMap(data)
	return m.Unmap()
}
