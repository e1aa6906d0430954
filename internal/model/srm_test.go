package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mathRNG struct{ r *rand.Rand }

func (m mathRNG) Float64() float64     { return m.r.Float64() }
func (m mathRNG) NormFloat64() float64 { return m.r.NormFloat64() }

func newRNG(seed int64) RNG { return mathRNG{rand.New(rand.NewSource(seed))} }

func TestSRM_GetRow_LazyInitDeterministic(t *testing.T) {
	srm := NewSRM(4)
	srm.SetInitializer(Initializer{Kind: InitRandNormal, P1: 0, P2: 1})

	r1 := srm.GetRow(newRNG(9527), 42)
	require.Equal(t, 1, srm.Size())

	srm2 := NewSRM(4)
	srm2.SetInitializer(Initializer{Kind: InitRandNormal, P1: 0, P2: 1})
	r2 := srm2.GetRow(newRNG(9527), 42)

	assert.Equal(t, r1.Data(), r2.Data(), "same seed + same id must produce bitwise identical lazy rows")
}

func TestSRM_GetRow_ReturnsExistingRow(t *testing.T) {
	srm := NewSRM(2)
	srm.SetInitializer(Initializer{Kind: InitZeros})
	r1 := srm.GetRow(newRNG(1), 7)
	r1.Data()[0] = 99
	r2 := srm.GetRow(newRNG(1), 7)
	assert.Same(t, r1, r2)
	assert.Equal(t, Float(99), r2.Data()[0])
}

func TestSRM_GetRowNoInit_NeverRandomizes(t *testing.T) {
	srm := NewSRM(3)
	srm.SetInitializer(Initializer{Kind: InitRandNormal, P1: 0, P2: 1})
	r := srm.GetRowNoInit(1)
	for _, v := range r.Data() {
		assert.Equal(t, Float(0), v)
	}
}

func TestSRM_MergeWithShardFilter(t *testing.T) {
	dst := NewSRM(1)
	src := NewSRM(1)
	src.SetRow(0, []Float{1})
	src.SetRow(1, []Float{2})
	src.SetRow(2, []Float{3})

	dst.Merge(src, func(id uint64) bool { return id%2 == 0 })

	assert.Equal(t, 2, dst.Size())
	r0, ok := dst.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, Float(1), r0.Data()[0])
	_, ok = dst.Lookup(1)
	assert.False(t, ok)
}

func TestSRM_RemoveZeros(t *testing.T) {
	srm := NewSRM(2)
	srm.SetRow(1, []Float{0, 0})
	srm.SetRow(2, []Float{0, 1})
	srm.RemoveZeros()
	assert.Equal(t, 1, srm.Size())
	_, ok := srm.Lookup(2)
	assert.True(t, ok)
}

func TestSRM_RemoveIf(t *testing.T) {
	srm := NewSRM(1)
	srm.SetRow(1, []Float{1})
	srm.SetRow(2, []Float{1})
	srm.RemoveIf(func(id uint64, _ *Row) bool { return id == 1 })
	assert.Equal(t, 1, srm.Size())
}
