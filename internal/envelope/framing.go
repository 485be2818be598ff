package envelope

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/redhat-performance/rusty-comms/internal/transport"
)

// lengthPrefixSize is the byte-stream framing's big-endian length prefix.
const lengthPrefixSize = 4

// WriteFramed writes e to w as a 4-byte big-endian length prefix followed by
// the serialized envelope, the framing used by the stream socket transports.
func WriteFramed(w io.Writer, e *Envelope) error {
	n := e.Len()
	buf := make([]byte, lengthPrefixSize+n)
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(n))
	e.Encode(buf[lengthPrefixSize:])
	if _, err := w.Write(buf); err != nil {
		return transport.WithKind(errors.Wrap(err, "envelope: write frame"), transport.KindIoError)
	}
	return nil
}

// ReadFramed reads one length-prefixed frame from r and decodes it. A short
// read on either the prefix or the body is reported as Truncated; a
// declared length over MaxFrameSize is reported as FrameTooLarge.
func ReadFramed(r io.Reader) (*Envelope, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, transport.WithKind(err, transport.KindPeerClosed)
		}
		return nil, transport.WithKind(errors.Wrap(err, "envelope: read length prefix"), transport.KindTruncated)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, transport.WithKind(errors.Newf("envelope: frame length %d exceeds cap %d", length, MaxFrameSize), transport.KindFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, transport.WithKind(errors.Wrap(err, "envelope: read frame body"), transport.KindTruncated)
	}

	return Decode(body)
}
