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
// ring transport used as one of the benchmark harness's IPC mechanisms.
//
// A named segment under /dev/shm (or the OS temp directory as a fallback)
// holds a cache-line-aligned control header followed by a byte ring. Exactly
// one producer and one consumer may attach to a given ring; a round trip
// uses two segments, one per direction, since the ring itself is strictly
// one-way. The hot path never makes a syscall unless the ring is actually
// empty or full: Send and Recv spin with exponential backoff first and only
// park on a futex once the backoff has saturated.
//
// This package is Linux-only (amd64/arm64) because it depends on SYS_FUTEX.
package shm
