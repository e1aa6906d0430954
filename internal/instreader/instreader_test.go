package instreader

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
)

func TestLibSVMNextBatches(t *testing.T) {
	data := "1 1:1 2:1\n0 2:1 3:1\n1 3:1 4:1\n"
	r := NewLibSVM(strings.NewReader(data))

	batch, err := r.Next(2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []uint64{1, 2}, batch[0].IDs)
	assert.Equal(t, []uint64{2, 3}, batch[1].IDs)

	batch, err = r.Next(2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, []uint64{3, 4}, batch[0].IDs)

	_, err = r.Next(2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLibSVMRejectsBadLine(t *testing.T) {
	r := NewLibSVM(strings.NewReader("not-a-label 1:1\n"))
	_, err := r.Next(1)
	assert.Error(t, err)
}

func TestLibSVMSkipsBlankLines(t *testing.T) {
	r := NewLibSVM(strings.NewReader("\n1 1:1\n\n"))
	batch, err := r.Next(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, model.Float(1), batch[0].Weight)
}
