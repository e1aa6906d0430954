// Package wire implements the length-prefixed request/response framing
// and zero-copy tensor codec used by every CS/PS/worker connection. A
// single RPC on a connection is strictly request→response; pipelining is
// not used.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Kind identifies the message carried by a frame.
type Kind uint8

const (
	KindFileRequest Kind = iota
	KindFileResponse
	KindFileFinishNotify
	KindAck
	KindPullRequest
	KindPullResponse
	KindPushNotify
	KindModelSaveRequest
	KindTerminationNotify
	KindPredictRequest
	KindPredictResponse
)

// maxFrameBytes bounds a single frame's payload to guard against a
// corrupt length prefix turning into an unbounded allocation.
const maxFrameBytes = 1 << 30

// WriteFrame writes a length-prefixed frame: 1 byte kind, 4 byte
// little-endian payload length, then payload.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	var hdr [5]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wire: write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: write frame payload")
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, errors.Wrap(err, "wire: read frame header")
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	if n > maxFrameBytes {
		return 0, nil, fmt.Errorf("wire: frame payload %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "wire: read frame payload")
	}
	return Kind(hdr[0]), payload, nil
}
