//go:build linux && (amd64 || arm64)

package shm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackRing(t *testing.T) (*Segment, *Ring) {
	t.Helper()
	name := fmt.Sprintf("wrap-%s-%d", t.Name(), time.Now().UnixNano())
	_ = RemoveSegment(name)
	t.Cleanup(func() { _ = RemoveSegment(name) })

	seg, err := CreateSegment(name, MinRingCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })

	require.True(t, seg.H.ClaimProducer())
	require.True(t, seg.H.ClaimConsumer())
	return seg, NewRing(seg)
}

// TestRingSendWrapsAcrossBoundary positions the ring so the next frame's
// remaining space before the capacity boundary (remToEnd) is smaller than
// the frame itself, forcing Send onto the wrap-sentinel path (ring.go's
// needsWrap branch) instead of a straight write, and checks the payload
// read back intact on the other side of the wrap.
func TestRingSendWrapsAcrossBoundary(t *testing.T) {
	_, ring := newLoopbackRing(t)
	h := ring.h

	const cap = MinRingCapacity
	payload := make([]byte, 20) // frameSize = 4 + 20 = 24
	for i := range payload {
		payload[i] = byte(i)
	}

	// Park both head and tail ten bytes before the boundary: remToEnd (10)
	// is less than frameSize (24), so Send must emit a wrap record rather
	// than straddle the boundary.
	const nearEnd = uint64(cap - 10)
	h.PublishHead(nearEnd)
	h.PublishTail(nearEnd)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, ring.Send(ctx, payload))

	// The wrap record (10 bytes of slack) plus the real frame (24 bytes)
	// must land head exactly one frame past the capacity boundary: the
	// frame starts at the boundary, so no byte of it crosses the boundary
	// (the no-straddle invariant).
	require.Equal(t, nearEnd+10+24, h.Head())

	got, err := ring.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// The ring is empty again: Recv transparently consumed the wrap record
	// and landed tail where Send landed head.
	require.Equal(t, h.Head(), h.Tail())
}

// TestRingSendRejectsStraddlingFrame checks the companion guarantee: a frame
// that would need to straddle the boundary (remToEnd > 0 but the payload
// itself spans it) is always either wrapped whole or not written at all —
// writeAt() never partially places a record's length prefix on one side of
// the boundary and its payload on the other.
func TestRingSendRejectsStraddlingFrame(t *testing.T) {
	_, ring := newLoopbackRing(t)
	h := ring.h

	const cap = MinRingCapacity
	payload := make([]byte, 50) // frameSize = 54, comfortably over remToEnd below

	const nearEnd = uint64(cap - 5)
	h.PublishHead(nearEnd)
	h.PublishTail(nearEnd)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ring.Send(ctx, payload))

	// Wrap record absorbs the 5-byte slack; the real frame starts exactly at
	// the next capacity boundary, never split across it.
	require.Equal(t, nearEnd+5, uint64(cap))
	require.Equal(t, uint64(cap)+uint64(lengthPrefixSize+len(payload)), h.Head())

	got, err := ring.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestWarnBackpressureOnceFiresExactlyOnce exercises the header's
// backpressure-warned flag directly: the first caller observes the 0→1
// transition, every later caller observes it already set.
func TestWarnBackpressureOnceFiresExactlyOnce(t *testing.T) {
	seg, err := CreateSegment(fmt.Sprintf("warn-%d", time.Now().UnixNano()), MinRingCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close(); _ = RemoveSegment(seg.Name) })

	require.True(t, seg.H.WarnBackpressureOnce())
	for i := 0; i < 5; i++ {
		require.False(t, seg.H.WarnBackpressureOnce())
	}
}

// TestSendBackpressureWarnsOnceThenTimesOut fills the ring completely so
// Send can never make progress, drives it under a short deadline, and
// checks that the backpressure warning fired exactly once across the
// blocked attempt even though Send's own spin-backoff loop re-checks free
// space repeatedly before giving up.
func TestSendBackpressureWarnsOnceThenTimesOut(t *testing.T) {
	_, ring := newLoopbackRing(t)
	h := ring.h

	// Fill the ring completely: used == capacity, free == 0.
	h.PublishTail(0)
	h.PublishHead(h.Capacity())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := ring.Send(ctx, []byte("no room"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The warning already fired during the blocked Send; a direct call now
	// observes the flag already set rather than flipping it itself.
	require.False(t, h.WarnBackpressureOnce())
}

// TestListenerCloseRemovesBothSegments drives the full Listen/Dial round
// trip and checks that closing the listener removes both the c2s and s2c
// backing segment files.
func TestListenerCloseRemovesBothSegments(t *testing.T) {
	name := uniqueSegmentName(t)
	ln, err := Listen(name, MinRingCapacity)
	require.NoError(t, err)

	require.True(t, SegmentExists(name+c2sSuffix))
	require.True(t, SegmentExists(name+s2cSuffix))

	require.NoError(t, ln.Close())

	require.False(t, SegmentExists(name+c2sSuffix))
	require.False(t, SegmentExists(name+s2cSuffix))
}
