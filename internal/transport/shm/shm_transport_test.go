//go:build linux && (amd64 || arm64)

package shm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func uniqueSegmentName(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestRoundTripSendRecv(t *testing.T) {
	name := uniqueSegmentName(t)
	ln, err := Listen(name, MinRingCapacity)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr = err
			return
		}
		defer conn.Close()
		got, err := conn.Recv(ctx)
		if err != nil {
			serverErr = err
			return
		}
		serverErr = conn.Send(ctx, got)
	}()

	client, err := Dial(ctx, name)
	require.NoError(t, err)
	defer client.Close()

	want := []byte("round-trip-payload")
	require.NoError(t, client.Send(ctx, want))

	got, err := client.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	wg.Wait()
	require.NoError(t, serverErr)
}

func TestAcceptRejectsSecondCall(t *testing.T) {
	name := uniqueSegmentName(t)
	ln, err := Listen(name, MinRingCapacity)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() { _, _ = ln.Accept(ctx) }()
	time.Sleep(10 * time.Millisecond)

	_, err = ln.Accept(ctx)
	require.Error(t, err)
}

func TestDialFailsWithoutListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, uniqueSegmentName(t))
	require.Error(t, err)
}
