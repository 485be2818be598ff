package bench

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/latency"
)

func udsTestConfig(t *testing.T, msgCount int) TestConfig {
	cfg := NewTestConfig(MechanismUDS)
	cfg.WarmupIterations = 2
	cfg.MessageSizeBytes = 64
	cfg.TransportAddr = filepath.Join(t.TempDir(), "bench.sock")
	cfg = cfg.WithCount(msgCount)
	return cfg
}

func TestRunInProcessOneWayAndRoundTrip(t *testing.T) {
	cfg := udsTestConfig(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	oneWay, roundTrip, err := RunInProcess(ctx, cfg, Streams{})
	require.NoError(t, err)

	require.NotNil(t, oneWay)
	require.EqualValues(t, 10, oneWay.totalMessages)
	summary := oneWay.Summary(cfg.Percentiles)
	require.EqualValues(t, 10, summary.SampleCount)

	require.NotNil(t, roundTrip)
	require.EqualValues(t, 10, roundTrip.totalMessages)
	rtSummary := roundTrip.Summary(cfg.Percentiles)
	require.EqualValues(t, 10, rtSummary.SampleCount)
}

func TestRunInProcessOneWayOnly(t *testing.T) {
	cfg := udsTestConfig(t, 5)
	cfg.RoundTrip = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	oneWay, roundTrip, err := RunInProcess(ctx, cfg, Streams{})
	require.NoError(t, err)
	require.Nil(t, roundTrip)
	require.EqualValues(t, 5, oneWay.totalMessages)
}

func TestRunInProcessDurationTermination(t *testing.T) {
	cfg := udsTestConfig(t, 0)
	cfg = cfg.WithDuration(150 * time.Millisecond)
	cfg.OneWay = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, roundTrip, err := RunInProcess(ctx, cfg, Streams{})
	require.NoError(t, err)
	require.NotNil(t, roundTrip)
	require.Greater(t, roundTrip.totalMessages, uint64(0))
}

func TestRunInProcessStreamsOneWaySamples(t *testing.T) {
	cfg := udsTestConfig(t, 6)
	cfg.RoundTrip = false

	sink := latency.NewSink(64)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var samples []latency.Sample
	drained := make(chan struct{})
	go func() {
		for s := range sink.Samples() {
			samples = append(samples, s)
		}
		close(drained)
	}()

	oneWay, _, err := RunInProcess(ctx, cfg, Streams{OneWay: sink})
	require.NoError(t, err)
	<-drained

	require.EqualValues(t, 6, oneWay.totalMessages)
	require.Len(t, samples, 6)
	require.Zero(t, sink.Dropped())
}

func TestEffectiveConcurrencyCollapsesSHM(t *testing.T) {
	cfg := NewTestConfig(MechanismSHM)
	cfg.Concurrency = 4
	require.Equal(t, 1, EffectiveConcurrency(cfg))

	udsCfg := NewTestConfig(MechanismUDS)
	udsCfg.Concurrency = 4
	require.Equal(t, 4, EffectiveConcurrency(udsCfg))
}
