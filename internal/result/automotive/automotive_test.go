package automotive

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

func TestParseClassRoundTrip(t *testing.T) {
	for _, c := range Classes {
		parsed, err := ParseClass(string(c))
		require.NoError(t, err)
		require.Equal(t, c, parsed)
	}
}

func TestParseClassRejectsUnknown(t *testing.T) {
	_, err := ParseClass("warp-critical")
	require.Error(t, err)
	require.Equal(t, transport.KindConfigInvalid, transport.KindOf(err))
}

func TestEvaluateCompliantWithinBudget(t *testing.T) {
	// 50us P99.9, zero errors comfortably clears comfort-systems (100ms, 100ppm).
	c := Evaluate(ComfortSystems, 50_000, 1_000_000, 0)
	require.True(t, c.Compliant)
	require.True(t, c.LatencyCompliant)
	require.True(t, c.ErrorRateCompliant)
}

func TestEvaluateLatencyMissFailsLifeCritical(t *testing.T) {
	// 1ms P99.9 exceeds life-critical's 100us budget.
	c := Evaluate(LifeCritical, 1_000_000, 1_000_000, 0)
	require.False(t, c.Compliant)
	require.False(t, c.LatencyCompliant)
}

func TestEvaluateErrorBudgetMiss(t *testing.T) {
	// 10 errors out of 1000 ops = 10,000 ppm, exceeds safety-critical's 1ppm.
	c := Evaluate(SafetyCritical, 1, 1000, 10)
	require.False(t, c.Compliant)
	require.False(t, c.ErrorRateCompliant)
}

func TestSuitableClassesOrderedTightestFirst(t *testing.T) {
	suitable := SuitableClasses(50, 1_000_000, 0)
	require.NotEmpty(t, suitable)
	require.Equal(t, LifeCritical, suitable[0])
}
