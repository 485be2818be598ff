// Package envelope implements the fixed-field message header, payload
// framing, and serialize/deserialize logic shared by every transport.
package envelope

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// Kind tags the role a message plays in the measurement loop.
type Kind uint8

const (
	KindOneWay Kind = iota
	KindRequest
	KindReply
	KindTerminate
)

// HeaderSize is the fixed, little-endian on-the-wire header size in bytes:
// id(8) + send_timestamp_ns(8) + echo_timestamp_ns(8) + worker_id(4) + kind(1) + payload_len(4).
const HeaderSize = 8 + 8 + 8 + 4 + 1 + 4

// MaxFrameSize caps the declared frame length a decoder will accept before
// it fails with FrameTooLarge, guarding against a corrupt or hostile length
// prefix causing an enormous allocation.
const MaxFrameSize = 64 << 20

// Envelope is a message header plus its opaque, fixed-size payload. The
// payload's content is never inspected, only its length.
type Envelope struct {
	ID               uint64
	SendTimestampNs  uint64
	EchoTimestampNs  uint64
	WorkerID         uint32
	Kind             Kind
	Payload          []byte
}

// Len returns the on-the-wire size of the envelope (header + payload).
func (e *Envelope) Len() int { return HeaderSize + len(e.Payload) }

// Encode serializes the envelope's header and payload into buf, which must
// be at least e.Len() bytes, returning the number of bytes written.
func (e *Envelope) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], e.ID)
	binary.LittleEndian.PutUint64(buf[8:16], e.SendTimestampNs)
	binary.LittleEndian.PutUint64(buf[16:24], e.EchoTimestampNs)
	binary.LittleEndian.PutUint32(buf[24:28], e.WorkerID)
	buf[28] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[29:33], uint32(len(e.Payload)))
	copy(buf[HeaderSize:HeaderSize+len(e.Payload)], e.Payload)
	return HeaderSize + len(e.Payload)
}

// Decode parses an envelope from buf, which must be exactly HeaderSize plus
// the declared payload_len, as already validated by the caller's framing
// layer (the length prefix or the datagram's atomic size). The returned
// Envelope's Payload is a copy and does not alias buf.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) < HeaderSize {
		return nil, transport.WithKind(errors.Newf("envelope: short buffer %d < %d", len(buf), HeaderSize), transport.KindTruncated)
	}
	payloadLen := binary.LittleEndian.Uint32(buf[29:33])
	if uint32(len(buf)-HeaderSize) != payloadLen {
		return nil, transport.WithKind(
			errors.Newf("envelope: declared payload_len %d does not match buffer remainder %d", payloadLen, len(buf)-HeaderSize),
			transport.KindTruncated)
	}
	return &Envelope{
		ID:              binary.LittleEndian.Uint64(buf[0:8]),
		SendTimestampNs: binary.LittleEndian.Uint64(buf[8:16]),
		EchoTimestampNs: binary.LittleEndian.Uint64(buf[16:24]),
		WorkerID:        binary.LittleEndian.Uint32(buf[24:28]),
		Kind:            Kind(buf[28]),
		Payload:         append([]byte(nil), buf[HeaderSize:]...),
	}, nil
}

// Payload returns a payload buffer of n bytes, either zero-filled or filled
// from a seeded PRNG so repeated runs with the same seed are reproducible.
func Payload(n int, seed uint64) []byte {
	p := make([]byte, n)
	if seed == 0 {
		return p
	}
	state := seed
	for i := range p {
		state = state*6364136223846793005 + 1442695040888963407
		p[i] = byte(state >> 56)
	}
	return p
}
