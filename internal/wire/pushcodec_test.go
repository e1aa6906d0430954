package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
)

func TestPushPayloadRoundTrip(t *testing.T) {
	grad := model.NewTensorMap()
	tsr := model.NewTSR(model.Shape{2})
	tsr.Data()[0], tsr.Data()[1] = 1, 2
	grad.SetTSR("w", tsr)

	overwritten := model.NewTensorMap()
	srm := model.NewSRM(2)
	srm.SetRow(7, []model.Float{3, 4})
	overwritten.SetSRM("embedding", srm)

	payload := EncodePushPayload(grad, overwritten)
	gradBuf, overwrittenBuf, err := SplitPushPayload(payload)
	require.NoError(t, err)

	gotGrad, err := DecodeTensorMapView(gradBuf)
	require.NoError(t, err)
	gotTSR, ok := gotGrad.TSR("w")
	require.True(t, ok)
	assert.Equal(t, []model.Float{1, 2}, gotTSR.Data())

	gotOverwritten, err := DecodeTensorMapView(overwrittenBuf)
	require.NoError(t, err)
	gotSRM, ok := gotOverwritten.SRM("embedding")
	require.True(t, ok)
	row, ok := gotSRM.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, []model.Float{3, 4}, row.Data())
}

func TestSplitPushPayloadTruncated(t *testing.T) {
	_, _, err := SplitPushPayload([]byte{1, 2})
	assert.Error(t, err)
}
