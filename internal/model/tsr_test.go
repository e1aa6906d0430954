package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSR_ResizeAndShape(t *testing.T) {
	tsr := NewTSR(Shape{2, 3})
	assert.Equal(t, Shape{2, 3}, tsr.Shape())
	assert.Len(t, tsr.Data(), 6)
}

func TestTSR_ViewAliasesStorage(t *testing.T) {
	tsr := NewTSR(Shape{2})
	tsr.Data()[0] = 5
	view := tsr.View()
	assert.True(t, view.IsView())
	view.Data()[0] = 9
	assert.Equal(t, Float(9), tsr.Data()[0], "a view must alias, not copy, the source buffer")
}

func TestTSR_AddInPlace(t *testing.T) {
	a := NewTSR(Shape{2})
	a.Data()[0], a.Data()[1] = 1, 2
	g := NewTSR(Shape{2})
	g.Data()[0], g.Data()[1] = 1, 1
	require.NoError(t, a.AddInPlace(g, 1))
	assert.Equal(t, []Float{2, 3}, a.Data())
}

func TestTSR_AddInPlace_ShapeMismatch(t *testing.T) {
	a := NewTSR(Shape{2})
	g := NewTSR(Shape{3})
	assert.Error(t, a.AddInPlace(g, 1))
}

func TestTSR_RandInit_Deterministic(t *testing.T) {
	a := NewTSR(Shape{4})
	a.RandInit(newRNG(42), Initializer{Kind: InitRandUniform, P1: -1, P2: 1})
	b := NewTSR(Shape{4})
	b.RandInit(newRNG(42), Initializer{Kind: InitRandUniform, P1: -1, P2: 1})
	assert.Equal(t, a.Data(), b.Data())
}
