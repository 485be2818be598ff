package result

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/bench"
	"github.com/redhat-performance/rusty-comms/internal/stats"
	"github.com/redhat-performance/rusty-comms/internal/sysinfo"
)

func summaryWith(median, p95, p99 int64) stats.Summary {
	return stats.Summary{
		MinNs:    median / 2,
		MaxNs:    p99 * 2,
		MeanNs:   float64(median),
		MedianNs: median,
		Percentiles: []stats.PercentileValue{
			{Percentile: 50, ValueNs: median},
			{Percentile: 95, ValueNs: p95},
			{Percentile: 99, ValueNs: p99},
			{Percentile: 99.9, ValueNs: p99 * 2},
		},
	}
}

func TestCompletedRollsUpThroughputAndPercentiles(t *testing.T) {
	cfg := bench.NewTestConfig(bench.MechanismUDS)
	oneWay := DirectionResultFrom(summaryWith(1000, 2000, 3000), 1000, 1_024_000, time.Second)
	rt := DirectionResultFrom(summaryWith(2000, 4000, 6000), 500, 512_000, time.Second)

	r := Completed(cfg, &oneWay, &rt, 0, time.Now(), time.Now())

	require.Equal(t, StatusCompleted, r.Status)
	require.EqualValues(t, 1500, r.Summary.TotalMessagesSent)
	require.EqualValues(t, 1_536_000, r.Summary.TotalBytesTransferred)
	require.Equal(t, int64(2000), r.Summary.P95LatencyNs)
	require.Equal(t, int64(3000), r.Summary.P99LatencyNs)
}

func TestFailedPreservesErrorKind(t *testing.T) {
	cfg := bench.NewTestConfig(bench.MechanismPMQ)
	r := Failed(cfg, errors.New("queue create failed"), "TransportUnavailable", time.Now())
	require.Equal(t, StatusFailed, r.Status)
	require.Equal(t, "TransportUnavailable", r.ErrorKind)
}

func TestAggregatorSelectsFastestAndLowestLatency(t *testing.T) {
	a := NewAggregator()

	udsOneWay := DirectionResultFrom(summaryWith(1000, 2000, 3000), 10_000, 10_240_000, time.Second)
	udsCfg := bench.NewTestConfig(bench.MechanismUDS)
	a.Add(Completed(udsCfg, &udsOneWay, nil, 0, time.Now(), time.Now()))

	shmOneWay := DirectionResultFrom(summaryWith(1000, 2000, 3000), 50_000, 51_200_000, time.Second)
	shmRT := DirectionResultFrom(summaryWith(200, 400, 600), 50_000, 51_200_000, time.Second)
	shmCfg := bench.NewTestConfig(bench.MechanismSHM)
	a.Add(Completed(shmCfg, &shmOneWay, &shmRT, 0, time.Now(), time.Now()))

	doc := a.Build(sysinfo.Info{})
	require.Equal(t, bench.MechanismSHM, doc.Summary.FastestMechanism)
	require.Equal(t, bench.MechanismSHM, doc.Summary.LowestLatencyMechanism)
	require.Len(t, doc.Results, 2)
}

func TestAggregatorAnyFailed(t *testing.T) {
	a := NewAggregator()
	require.False(t, a.AnyFailed())
	a.Add(Failed(bench.NewTestConfig(bench.MechanismTCP), errors.New("dial failed"), "IoError", time.Now()))
	require.True(t, a.AnyFailed())
}

func TestWriteJSONProducesValidDocument(t *testing.T) {
	a := NewAggregator()
	oneWay := DirectionResultFrom(summaryWith(1000, 2000, 3000), 1000, 1_024_000, time.Second)
	a.Add(Completed(bench.NewTestConfig(bench.MechanismUDS), &oneWay, nil, 0, time.Now(), time.Now()))

	doc := a.Build(sysinfo.Info{CPUCores: 4})
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, doc))
	require.Contains(t, buf.String(), "\"fastest_mechanism\"")
}
