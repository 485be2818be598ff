package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryMergeAssociativity(t *testing.T) {
	single := NewRegistry()
	hg := single.ForWorker(0)
	for i := int64(1); i <= 1000; i++ {
		hg.Record(i * 1000)
	}
	singleSummary := single.Merge([]float64{50, 95, 99})

	split := NewRegistry()
	for i := int64(1); i <= 1000; i++ {
		workerID := uint32(i % 4)
		split.ForWorker(workerID).Record(i * 1000)
	}
	splitSummary := split.Merge([]float64{50, 95, 99})

	require.Equal(t, singleSummary.SampleCount, splitSummary.SampleCount)
	for i := range singleSummary.Percentiles {
		require.InDelta(t, singleSummary.Percentiles[i].ValueNs, splitSummary.Percentiles[i].ValueNs, float64(singleSummary.Percentiles[i].ValueNs)*0.05+100)
	}
}

func TestRecordClampsAboveCeilingAndFlagsSaturation(t *testing.T) {
	hg := New()
	hg.Record(highestTrackableValue + 1_000_000)
	require.True(t, hg.Saturated())
}

func TestRecordClampsBelowFloorWithoutSaturation(t *testing.T) {
	hg := New()
	hg.Record(-5)
	require.False(t, hg.Saturated())
}
