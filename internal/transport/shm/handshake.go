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

//go:build linux && (amd64 || arm64)

package shm

import (
	"context"
	"time"
)

// WaitForPeerPresence polls until the requested side's presence flag is set
// or ctx is done. The ring transport's open handshake is this poll, not a
// futex wait, because presence claims happen before either party knows the
// other's control word has ever been touched.
func WaitForPeerPresence(ctx context.Context, h *Header, wantProducer bool) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if wantProducer {
			if h.ProducerPresent() {
				return nil
			}
		} else if h.ConsumerPresent() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
