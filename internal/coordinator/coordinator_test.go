package coordinator

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

func TestResolveBinaryFallsBackToEnvVar(t *testing.T) {
	prev := os.Getenv(BinaryPathEnvVar)
	defer os.Setenv(BinaryPathEnvVar, prev)

	require.NoError(t, os.Setenv(BinaryPathEnvVar, "/nonexistent/rusty-comms"))
	path, err := ResolveBinary()
	require.NoError(t, err)
	require.Equal(t, "/nonexistent/rusty-comms", path)
}

func TestResolveBinaryFailsWithoutAnyCandidate(t *testing.T) {
	prev := os.Getenv(BinaryPathEnvVar)
	defer os.Setenv(BinaryPathEnvVar, prev)
	require.NoError(t, os.Unsetenv(BinaryPathEnvVar))

	_, err := ResolveBinary()
	require.Error(t, err)
	require.Equal(t, transport.KindBinaryNotFound, transport.KindOf(err))
}

func TestWaitForReadinessByteSucceeds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SignalReady(&buf))

	err := waitForReadinessByte(context.Background(), &buf, time.Second)
	require.NoError(t, err)
}

func TestWaitForReadinessByteTimesOut(t *testing.T) {
	r, _ := newNeverWritingPipe()
	err := waitForReadinessByte(context.Background(), r, 50*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, transport.KindHandshakeTimeout, transport.KindOf(err))
}

func newNeverWritingPipe() (*os.File, *os.File) {
	r, w, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	return r, w
}

func TestParseAffinityFlag(t *testing.T) {
	core, set, err := ParseAffinityFlag("")
	require.NoError(t, err)
	require.False(t, set)
	require.Equal(t, 0, core)

	core, set, err = ParseAffinityFlag("3")
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, 3, core)

	_, _, err = ParseAffinityFlag("not-a-number")
	require.Error(t, err)
	require.Equal(t, transport.KindConfigInvalid, transport.KindOf(err))
}
