package bench

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeIDPacksWorkerAndSequence(t *testing.T) {
	id := makeID(7, 42)
	require.Equal(t, uint64(7)<<32|42, id)
}

func TestMakeIDDistinctAcrossWorkers(t *testing.T) {
	require.NotEqual(t, makeID(0, 1), makeID(1, 1))
}
