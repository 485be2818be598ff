package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfRoundTrips(t *testing.T) {
	cause := fmt.Errorf("listen tcp: %w", Sentinel(KindAddressInUse))
	err := WithKind(cause, KindAddressInUse)

	require.Equal(t, KindAddressInUse, KindOf(err))
	require.ErrorIs(t, err, Sentinel(KindAddressInUse))
}

func TestKindOfUnclassifiedFallsBackToIoError(t *testing.T) {
	require.Equal(t, KindIoError, KindOf(fmt.Errorf("boom")))
}

func TestKindOfNilIsEmpty(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(nil))
}
