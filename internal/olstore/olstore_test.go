package olstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrain_ClearsAfterReturning(t *testing.T) {
	o := New()
	o.Mark("w", 1)
	o.Mark("w", 2)
	o.Mark("v", 9)

	first := o.Drain()
	assert.ElementsMatch(t, []uint64{1, 2}, first["w"])
	assert.ElementsMatch(t, []uint64{9}, first["v"])
	assert.Equal(t, 0, o.Len())

	second := o.Drain()
	assert.Empty(t, second)
}

func TestMark_Idempotent(t *testing.T) {
	o := New()
	o.Mark("w", 1)
	o.Mark("w", 1)
	assert.Equal(t, 1, o.Len())
}
