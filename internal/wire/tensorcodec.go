package wire

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"deepx/internal/model"
)

// floatSize is sizeof(model.Float) in bytes for the current build
// (-tags deepx_double switches this to 8).
const floatSize = int(unsafe.Sizeof(model.Float(0)))

// floatsView reinterprets a byte slice as a []model.Float without copying,
// bound to the lifetime of the buffer it came from. buf's length must be a
// multiple of floatSize.
func floatsView(buf []byte, n int) []model.Float {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*model.Float)(unsafe.Pointer(&buf[0])), n)
}

func putFloats(dst []byte, vals []model.Float) {
	if len(vals) == 0 {
		return
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*floatSize)
	copy(dst, src)
}

// EncodeTensorMap serializes tm into the same binary layout used on disk,
// "the pull-response payload is exactly the on-wire
// serialization of a TensorMap".
func EncodeTensorMap(tm *model.TensorMap) []byte {
	buf := make([]byte, 0, 256)
	tsrNames := tm.TSRNames()
	buf = appendU32(buf, uint32(len(tsrNames)))
	for _, name := range tsrNames {
		t, _ := tm.TSR(name)
		buf = appendString(buf, name)
		shape := t.Shape()
		buf = appendU32(buf, uint32(len(shape)))
		for _, d := range shape {
			buf = appendU32(buf, uint32(d))
		}
		start := len(buf)
		buf = append(buf, make([]byte, len(t.Data())*floatSize)...)
		putFloats(buf[start:], t.Data())
	}

	srmNames := tm.SRMNames()
	buf = appendU32(buf, uint32(len(srmNames)))
	for _, name := range srmNames {
		s, _ := tm.SRM(name)
		buf = appendString(buf, name)
		buf = appendU32(buf, uint32(s.Col()))
		ids := s.Ids()
		buf = appendU32(buf, uint32(len(ids)))
		for _, id := range ids {
			row, _ := s.Lookup(id)
			buf = appendU64(buf, id)
			start := len(buf)
			buf = append(buf, make([]byte, len(row.Data())*floatSize)...)
			putFloats(buf[start:], row.Data())
		}
	}
	return buf
}

// DecodeTensorMapView parses buf into a TensorMap whose TSR values are
// views and whose SRM row values are views over buf — readable without
// copy on the receiver. buf must outlive the
// returned TensorMap.
func DecodeTensorMapView(buf []byte) (*model.TensorMap, error) {
	tm := model.NewTensorMap()
	if err := DecodeTensorMapViewInto(tm, buf); err != nil {
		return nil, err
	}
	return tm, nil
}

// DecodeTensorMapViewInto parses buf into tm, clearing tm first so callers
// can reuse one TensorMap per role across every
// RPC on a connection instead of allocating a fresh map header per request.
func DecodeTensorMapViewInto(tm *model.TensorMap, buf []byte) error {
	tm.Clear()
	off := 0

	nTSR, off, err := readU32(buf, off)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nTSR; i++ {
		var name string
		name, off, err = readString(buf, off)
		if err != nil {
			return err
		}
		var ndim uint32
		ndim, off, err = readU32(buf, off)
		if err != nil {
			return err
		}
		shape := make(model.Shape, ndim)
		for d := range shape {
			var v uint32
			v, off, err = readU32(buf, off)
			if err != nil {
				return err
			}
			shape[d] = int(v)
		}
		n := shape.Size()
		nbytes := n * floatSize
		if off+nbytes > len(buf) {
			return fmt.Errorf("wire: truncated tsr %q", name)
		}
		tm.SetTSR(name, model.ViewOf(shape, floatsView(buf[off:off+nbytes], n)))
		off += nbytes
	}

	nSRM, off, err := readU32(buf, off)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nSRM; i++ {
		var name string
		name, off, err = readString(buf, off)
		if err != nil {
			return err
		}
		var col32 uint32
		col32, off, err = readU32(buf, off)
		if err != nil {
			return err
		}
		col := int(col32)
		var nrows uint32
		nrows, off, err = readU32(buf, off)
		if err != nil {
			return err
		}
		srm := model.NewSRM(col)
		for r := uint32(0); r < nrows; r++ {
			var id uint64
			id, off, err = readU64(buf, off)
			if err != nil {
				return err
			}
			nbytes := col * floatSize
			if off+nbytes > len(buf) {
				return fmt.Errorf("wire: truncated srm %q row %d", name, id)
			}
			srm.SetRow(id, floatsView(buf[off:off+nbytes], col))
			off += nbytes
		}
		tm.SetSRM(name, srm)
	}
	return nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readU32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, fmt.Errorf("wire: truncated u32 at %d", off)
	}
	return binary.LittleEndian.Uint32(buf[off:]), off + 4, nil
}

func readU64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, off, fmt.Errorf("wire: truncated u64 at %d", off)
	}
	return binary.LittleEndian.Uint64(buf[off:]), off + 8, nil
}

func readString(buf []byte, off int) (string, int, error) {
	n, off, err := readU32(buf, off)
	if err != nil {
		return "", off, err
	}
	if off+int(n) > len(buf) {
		return "", off, fmt.Errorf("wire: truncated string at %d", off)
	}
	return string(buf[off : off+int(n)]), off + int(n), nil
}
