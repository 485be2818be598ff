package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/bench"
)

func newTestFlags(t *testing.T, args ...string) *flags {
	f := &flags{}
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return f
}

func TestResolvedMechanismsExpandsAll(t *testing.T) {
	f := newTestFlags(t, "-m", "all")
	mechs, err := f.resolvedMechanisms()
	require.NoError(t, err)
	require.Equal(t, bench.AllMechanisms, mechs)
}

func TestResolvedMechanismsDeduplicates(t *testing.T) {
	f := newTestFlags(t, "-m", "uds", "-m", "uds", "-m", "tcp")
	mechs, err := f.resolvedMechanisms()
	require.NoError(t, err)
	require.Equal(t, []bench.Mechanism{bench.MechanismUDS, bench.MechanismTCP}, mechs)
}

func TestResolvedMechanismsRejectsUnknown(t *testing.T) {
	f := newTestFlags(t, "-m", "carrier-pigeon")
	_, err := f.resolvedMechanisms()
	require.Error(t, err)
}

func TestBuildTestConfigTCPJoinsHostAndPort(t *testing.T) {
	f := newTestFlags(t, "--host", "10.0.0.5", "--port", "7000", "-i", "100")
	cfg, err := f.buildTestConfig(bench.MechanismTCP)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:7000", cfg.TransportAddr)
}

func TestBuildTestConfigTCPAcceptsAlreadyCombinedHost(t *testing.T) {
	f := newTestFlags(t, "--host", "10.0.0.5:7000", "-i", "100")
	cfg, err := f.buildTestConfig(bench.MechanismTCP)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:7000", cfg.TransportAddr)
}

func TestBuildTestConfigUDSUsesIPCPath(t *testing.T) {
	f := newTestFlags(t, "--ipc-path", "/tmp/bench.sock", "-i", "50")
	cfg, err := f.buildTestConfig(bench.MechanismUDS)
	require.NoError(t, err)
	require.Equal(t, "/tmp/bench.sock", cfg.TransportAddr)
}

func TestBuildTestConfigRejectsEmptyAddress(t *testing.T) {
	f := newTestFlags(t, "-i", "50")
	f.ipcPath = ""
	_, err := f.buildTestConfig(bench.MechanismUDS)
	require.Error(t, err)
}

func TestBuildTestConfigRejectsCountAndDurationTogether(t *testing.T) {
	f := newTestFlags(t, "--ipc-path", "/tmp/bench.sock", "-i", "50", "-d", "1s")
	_, err := f.buildTestConfig(bench.MechanismUDS)
	require.Error(t, err)
}

func TestBuildTestConfigDuration(t *testing.T) {
	f := newTestFlags(t, "--ipc-path", "/tmp/bench.sock", "-d", "2s")
	cfg, err := f.buildTestConfig(bench.MechanismUDS)
	require.NoError(t, err)
	require.False(t, cfg.Termination.ByCount())
	require.Equal(t, 2*time.Second, cfg.Termination.Duration)
}

func TestOneWayAndRoundTripToggles(t *testing.T) {
	f := newTestFlags(t, "--no-one-way")
	require.False(t, f.oneWayEnabled())
	require.True(t, f.roundTripEnabled())
}

func TestBuildTestConfigAffinity(t *testing.T) {
	f := newTestFlags(t, "--ipc-path", "/tmp/bench.sock", "-i", "1", "--server-affinity", "2", "--client-affinity", "3")
	cfg, err := f.buildTestConfig(bench.MechanismUDS)
	require.NoError(t, err)
	require.True(t, cfg.HasServerAffinity)
	require.Equal(t, 2, cfg.ServerAffinity)
	require.True(t, cfg.HasClientAffinity)
	require.Equal(t, 3, cfg.ClientAffinity)
}

func TestBuildTestConfigDeadlineClass(t *testing.T) {
	f := newTestFlags(t, "--ipc-path", "/tmp/bench.sock", "-i", "1", "--deadline-class", "safety-critical")
	cfg, err := f.buildTestConfig(bench.MechanismUDS)
	require.NoError(t, err)
	require.NotNil(t, cfg.DeadlineClass)
}
