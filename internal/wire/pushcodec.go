package wire

import (
	"fmt"

	"deepx/internal/model"
)

// EncodePushPayload packs a PushNotify frame payload as two length-prefixed
// TensorMap blobs, grad then overwritten.
func EncodePushPayload(grad, overwritten *model.TensorMap) []byte {
	g := EncodeTensorMap(grad)
	o := EncodeTensorMap(overwritten)
	buf := make([]byte, 0, 8+len(g)+len(o))
	buf = appendU32(buf, uint32(len(g)))
	buf = append(buf, g...)
	buf = appendU32(buf, uint32(len(o)))
	buf = append(buf, o...)
	return buf
}

// SplitPushPayload splits a PushNotify payload into its grad and
// overwritten-param blobs without copying, so the caller can decode each
// with DecodeTensorMapViewInto.
func SplitPushPayload(buf []byte) (gradBuf, overwrittenBuf []byte, err error) {
	n, off, err := readU32(buf, 0)
	if err != nil {
		return nil, nil, err
	}
	if off+int(n) > len(buf) {
		return nil, nil, fmt.Errorf("wire: truncated push grad blob")
	}
	gradBuf = buf[off : off+int(n)]
	off += int(n)

	m, off, err := readU32(buf, off)
	if err != nil {
		return nil, nil, err
	}
	if off+int(m) > len(buf) {
		return nil, nil, fmt.Errorf("wire: truncated push overwritten blob")
	}
	overwrittenBuf = buf[off : off+int(m)]
	return gradBuf, overwrittenBuf, nil
}
