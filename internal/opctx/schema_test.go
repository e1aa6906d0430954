package opctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
	"deepx/internal/modelshard"
)

func testSchema() modelshard.Schema {
	return modelshard.Schema{
		{Name: "bias", Kind: modelshard.KindTSR, Shape: model.Shape{1}, Init: model.Initializer{Kind: model.InitZeros}},
		{Name: "embedding", Kind: modelshard.KindSRM, Col: 4, Init: model.Initializer{Kind: model.InitZeros}},
	}
}

func TestSchemaContextGetPullRequest(t *testing.T) {
	c := NewSchemaContext(testSchema())
	require.NoError(t, c.LoadBatch([]uint64{1, 2, 2}, []model.Float{1, 0}, []model.Float{1, 1}))

	req := model.NewPullRequest()
	require.NoError(t, c.GetPullRequest(req))

	_, hasBias := req.TSRSet["bias"]
	assert.True(t, hasBias)
	assert.Equal(t, map[uint64]struct{}{1: {}, 2: {}}, req.SRMMap["embedding"])
}

func TestSchemaContextForwardBackwardPredictions(t *testing.T) {
	c := NewSchemaContext(testSchema())
	require.NoError(t, c.LoadBatch([]uint64{1}, []model.Float{1}, []model.Float{1}))
	c.SetParam(model.NewTensorMap())

	loss, weight, err := c.Forward()
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)
	assert.Equal(t, 1.0, weight)

	grad, overwritten, err := c.Backward()
	require.NoError(t, err)
	assert.Empty(t, grad.TSRNames())
	assert.Empty(t, overwritten.SRMNames())

	assert.Len(t, c.Predictions(), 1)
}
