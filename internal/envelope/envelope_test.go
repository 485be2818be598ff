package envelope

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := &Envelope{
		ID:              42,
		SendTimestampNs: 1_000_000,
		EchoTimestampNs: 0,
		WorkerID:        3,
		Kind:            KindRequest,
		Payload:         Payload(128, 7),
	}

	buf := make([]byte, e.Len())
	n := e.Encode(buf)
	require.Equal(t, e.Len(), n)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, e.SendTimestampNs, got.SendTimestampNs)
	require.Equal(t, e.WorkerID, got.WorkerID)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Payload, got.Payload)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	e := &Envelope{ID: 1, Payload: Payload(16, 1)}
	buf := make([]byte, e.Len())
	e.Encode(buf)

	_, err := Decode(buf[:len(buf)-4])
	require.Error(t, err)
}

func TestWriteReadFramedRoundTrip(t *testing.T) {
	e := &Envelope{ID: 9, WorkerID: 1, Kind: KindOneWay, Payload: Payload(64, 3)}

	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, e))

	got, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.Equal(t, e.Payload, got.Payload)
}

func TestReadFramedRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFramed(&buf)
	require.Error(t, err)
}

func TestPayloadDeterministicForSameSeed(t *testing.T) {
	a := Payload(256, 99)
	b := Payload(256, 99)
	require.Equal(t, a, b)

	c := Payload(256, 100)
	require.NotEqual(t, a, c)
}
