package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
)

func TestTensorMap_EncodeDecodeRoundTrip(t *testing.T) {
	tm := model.NewTensorMap()
	tsr := model.NewTSR(model.Shape{2, 2})
	copy(tsr.Data(), []model.Float{1, 2, 3, 4})
	tm.SetTSR("w", tsr)

	srm := model.NewSRM(3)
	srm.SetRow(7, []model.Float{0.1, 0.2, 0.3})
	srm.SetRow(9, []model.Float{1, 1, 1})
	tm.SetSRM("emb", srm)

	buf := EncodeTensorMap(tm)
	got, err := DecodeTensorMapView(buf)
	require.NoError(t, err)

	gotTSR, ok := got.TSR("w")
	require.True(t, ok)
	assert.Equal(t, model.Shape{2, 2}, gotTSR.Shape())
	assert.Equal(t, []model.Float{1, 2, 3, 4}, gotTSR.Data())
	assert.True(t, gotTSR.IsView())

	gotSRM, ok := got.SRM("emb")
	require.True(t, ok)
	assert.Equal(t, 3, gotSRM.Col())
	row, ok := gotSRM.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, []model.Float{0.1, 0.2, 0.3}, row.Data())
}

func TestPullRequest_EncodeDecodeRoundTrip(t *testing.T) {
	req := model.NewPullRequest()
	req.IsTrain = true
	req.AddTSR("bias")
	req.AddSRMID("emb", 1)
	req.AddSRMID("emb", 2)
	req.IDFreqMap[1] = 5

	buf := EncodePullRequest(req)
	got, err := DecodePullRequest(buf)
	require.NoError(t, err)

	assert.True(t, got.IsTrain)
	_, ok := got.TSRSet["bias"]
	assert.True(t, ok)
	assert.Len(t, got.SRMMap["emb"], 2)
	assert.Equal(t, uint64(5), got.IDFreqMap[1])
}
