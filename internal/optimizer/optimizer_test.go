package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
)

func paramAndGrad(col int) (*model.TensorMap, *model.TensorMap) {
	param := model.NewTensorMap()
	grad := model.NewTensorMap()

	p := model.NewSRM(col)
	p.SetRow(1, []model.Float{1, 1})
	param.SetSRM("w", p)

	g := model.NewSRM(col)
	g.SetRow(1, []model.Float{0.5, 0.5})
	grad.SetSRM("w", g)

	return param, grad
}

func TestSGD_UpdateAppliesLearningRate(t *testing.T) {
	param, grad := paramAndGrad(2)
	sgd := NewSGD(0.1)
	require.NoError(t, sgd.Update(param, grad))

	srm, _ := param.SRM("w")
	row, _ := srm.Lookup(1)
	assert.InDeltaSlice(t, []float64{0.95, 0.95}, toFloat64(row.Data()), 1e-6)
}

func TestAdagrad_AccumulatesState(t *testing.T) {
	param, grad := paramAndGrad(2)
	ada := NewAdagrad(0.1, 1e-8)
	require.NoError(t, ada.Update(param, grad))
	require.NoError(t, ada.Update(param, grad))

	state := ada.State()["w"]
	require.Equal(t, 1, state.Size())
	row, ok := state.Lookup(1)
	require.True(t, ok)
	assert.InDelta(t, 0.5, float64(row.Data()[0]), 1e-6)
}

func TestNew_UnknownOptimizer(t *testing.T) {
	_, err := New(Config{Name: "madeup"})
	assert.Error(t, err)
}

func toFloat64(in []model.Float) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig("sgd", "")
	require.NoError(t, err)
	assert.Equal(t, "sgd", cfg.Name)
	assert.Equal(t, model.Float(0.01), cfg.LearningRate)
}

func TestParseConfigOverridesLearningRateAndEps(t *testing.T) {
	cfg, err := ParseConfig("adagrad", "lr=0.5,eps=1e-6")
	require.NoError(t, err)
	assert.Equal(t, "adagrad", cfg.Name)
	assert.Equal(t, model.Float(0.5), cfg.LearningRate)
	assert.Equal(t, model.Float(1e-6), cfg.Eps)
}

func TestParseConfigRejectsUnknownKey(t *testing.T) {
	_, err := ParseConfig("sgd", "bogus=1")
	assert.Error(t, err)
}
