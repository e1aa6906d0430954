package model

import "fmt"

// TSR is a dense tensor of fixed shape. It can either own its backing slice
// or, when produced by View, alias another TSR's slice without copying —
// the zero-copy mode a Pull response uses for inbound wire buffers.
type TSR struct {
	shape  Shape
	data   []Float
	isView bool
}

// NewTSR allocates an owned, zeroed TSR of the given shape. shape must be
// fully bound (no DynamicDim).
func NewTSR(shape Shape) *TSR {
	t := &TSR{}
	t.Resize(shape)
	return t
}

// Resize reallocates the backing buffer for shape, discarding old contents.
// Resize on a view is a programming error: views never own their buffer.
func (t *TSR) Resize(shape Shape) {
	if t.isView {
		panic("model: Resize called on a TSR view")
	}
	t.shape = shape.Clone()
	t.data = make([]Float, shape.Size())
}

// RandInit fills every element of an owned TSR using init, seeded from rng.
func (t *TSR) RandInit(rng RNG, init Initializer) {
	if t.isView {
		panic("model: RandInit called on a TSR view")
	}
	init.Fill(rng, t.data, t.shape.Size())
}

// Shape returns the tensor's shape.
func (t *TSR) Shape() Shape { return t.shape }

// Data returns the backing slice. For a view this aliases the source
// buffer; callers must not retain it past the view's documented lifetime.
func (t *TSR) Data() []Float { return t.data }

// IsView reports whether t aliases another TSR's buffer rather than owning
// its own.
func (t *TSR) IsView() bool { return t.isView }

// View returns a non-owning TSR that aliases t's storage. The returned view
// is valid only until the next Pull call on the connection that produced it.
func (t *TSR) View() *TSR {
	return &TSR{shape: t.shape, data: t.data, isView: true}
}

// ViewOf constructs a non-owning TSR directly over an externally-owned
// slice (e.g. bytes decoded zero-copy from an inbound wire buffer).
func ViewOf(shape Shape, data []Float) *TSR {
	return &TSR{shape: shape.Clone(), data: data, isView: true}
}

// Clone returns an owned, independent deep copy of t.
func (t *TSR) Clone() *TSR {
	out := &TSR{shape: t.shape.Clone(), data: make([]Float, len(t.data))}
	copy(out.data, t.data)
	return out
}

// AddInPlace adds grad element-wise into t (used by optimizers without a
// slot of their own, e.g. plain SGD on a dense tensor).
func (t *TSR) AddInPlace(grad *TSR, scale Float) error {
	if !t.shape.Equal(grad.shape) {
		return fmt.Errorf("model: shape mismatch %v vs %v", t.shape, grad.shape)
	}
	for i, g := range grad.data {
		t.data[i] += g * scale
	}
	return nil
}

// CopyFrom overwrites t's contents with src's (used by Push overwritten
// params). Shapes must match.
func (t *TSR) CopyFrom(src *TSR) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("model: shape mismatch %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}
