//go:build linux

package pmq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("rusty-comms-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestRoundTripSendRecv(t *testing.T) {
	name := uniqueName(t)
	ln, err := Listen(name, 8, 256, DefaultPriority)
	if err != nil {
		t.Skipf("POSIX message queues unavailable in this sandbox: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		got, err := conn.Recv(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- conn.Send(ctx, got)
	}()

	client, err := Dial(ctx, name, 256, DefaultPriority)
	require.NoError(t, err)
	defer client.Close()

	want := []byte("pmq-payload")
	require.NoError(t, client.Send(ctx, want))
	require.NoError(t, <-serverDone)

	got, err := client.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSendTimesOutWhenQueueFull(t *testing.T) {
	name := uniqueName(t)
	q, err := Create(Config{Name: name, Depth: 1, MaxMsgSize: 64, Priority: DefaultPriority})
	if err != nil {
		t.Skipf("POSIX message queues unavailable in this sandbox: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Send(ctx, []byte("first")))

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = q.Send(shortCtx, []byte("second"))
	require.Error(t, err)
	require.Equal(t, transport.KindBackpressureTimeout, transport.KindOf(err))
}

func TestOpenMissingQueueIsTransportUnavailable(t *testing.T) {
	_, err := Open(uniqueName(t), 64, DefaultPriority)
	require.Error(t, err)
	require.Equal(t, transport.KindTransportUnavailable, transport.KindOf(err))
}
