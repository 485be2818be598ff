package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/envelope"
	"github.com/redhat-performance/rusty-comms/internal/transport"
)

func encodedOneWay(id uint64, payload []byte) []byte {
	e := &envelope.Envelope{ID: id, Kind: envelope.KindOneWay, Payload: payload}
	buf := make([]byte, e.Len())
	e.Encode(buf)
	return buf
}

func TestUnixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rusty-comms-test.sock")

	ln, err := Listen(NetworkUnix, path)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		got, err := conn.Recv(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		serverErr <- conn.Send(ctx, got)
	}()

	client, err := Dial(ctx, NetworkUnix, path)
	require.NoError(t, err)
	defer client.Close()

	want := encodedOneWay(1, []byte("hello"))
	require.NoError(t, client.Send(ctx, want))

	require.NoError(t, <-serverErr)

	got, err := client.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestListenRemovesStaleUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	ln, err := Listen(NetworkUnix, path)
	require.NoError(t, err)
	defer ln.Close()
}

func TestDialUnavailableAddrClassifiesTransportUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "nobody-listening.sock")
	_, err := Dial(ctx, NetworkUnix, path)
	require.Error(t, err)
	require.Equal(t, transport.KindTransportUnavailable, transport.KindOf(err))
}

func TestPeerCloseSurfacesAsPeerClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.sock")
	ln, err := Listen(NetworkUnix, path)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept(ctx)
		require.NoError(t, err)
		close(accepted)
		_ = conn.Close()
	}()

	client, err := Dial(ctx, NetworkUnix, path)
	require.NoError(t, err)
	defer client.Close()

	<-accepted
	_, err = client.Recv(ctx)
	require.Error(t, err)
	require.Equal(t, transport.KindPeerClosed, transport.KindOf(err))
}

func TestTCPLoopbackDial(t *testing.T) {
	ln, err := Listen(NetworkTCP, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			defer conn.Close()
		}
	}()

	client, err := Dial(ctx, NetworkTCP, ln.Addr())
	require.NoError(t, err)
	defer client.Close()
}

func TestAddressInUseOnSecondBind(t *testing.T) {
	ln, err := Listen(NetworkTCP, "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(NetworkTCP, ln.Addr())
	require.Error(t, err)
	require.Equal(t, transport.KindAddressInUse, transport.KindOf(err))
}
