package modelshard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
)

func testSchema() Schema {
	return Schema{
		{Name: "w", Kind: KindTSR, Shape: model.Shape{4}, Init: model.Initializer{Kind: model.InitZeros}},
		{Name: "embedding", Kind: KindSRM, Col: 4, Init: model.Initializer{Kind: model.InitZeros}},
	}
}

func newTestShard(t *testing.T) *ModelShard {
	t.Helper()
	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0.1})
	require.NoError(t, err)
	m := New(sh, 0, testSchema(), opt, 42)
	m.InitModel()
	return m
}

func TestModelShardPullCreatesRowsOnlyWhenTraining(t *testing.T) {
	m := newTestShard(t)

	req := model.NewPullRequest()
	req.IsTrain = false
	req.AddSRMID("embedding", 7)
	out := model.NewTensorMap()
	require.NoError(t, m.Pull(req, out))

	srm, ok := out.SRM("embedding")
	require.True(t, ok)
	assert.Equal(t, 0, srm.Size(), "unknown id must not be created on a non-train pull")

	req2 := model.NewPullRequest()
	req2.IsTrain = true
	req2.AddSRMID("embedding", 7)
	out2 := model.NewTensorMap()
	require.NoError(t, m.Pull(req2, out2))
	srm2, _ := out2.SRM("embedding")
	assert.Equal(t, 1, srm2.Size(), "a training pull must lazily create the row")

	param, ok := m.Param().SRM("embedding")
	require.True(t, ok)
	_, ok = param.Lookup(7)
	assert.True(t, ok, "the lazily created row must land in the shard's own param, not just the response view")
}

func TestModelShardPullTSRIsAView(t *testing.T) {
	m := newTestShard(t)
	req := model.NewPullRequest()
	req.AddTSR("w")
	out := model.NewTensorMap()
	require.NoError(t, m.Pull(req, out))

	tsr, ok := out.TSR("w")
	require.True(t, ok)
	assert.True(t, tsr.IsView())
}

func TestModelShardPushUpdatesParam(t *testing.T) {
	m := newTestShard(t)

	grad := model.NewTensorMap()
	w := model.NewTSR(model.Shape{4})
	copy(w.Data(), []model.Float{1, 1, 1, 1})
	grad.SetTSR("w", w)

	require.NoError(t, m.Push(grad, nil, 100))

	p, ok := m.Param().TSR("w")
	require.True(t, ok)
	for _, v := range p.Data() {
		assert.InDelta(t, -0.1, float64(v), 1e-6)
	}
}

func TestModelShardPushMarksOLStoreDirty(t *testing.T) {
	m := newTestShard(t)
	m.InitOLStore()

	grad := model.NewTensorMap()
	srm := model.NewSRM(4)
	srm.SetRow(9, []model.Float{1, 1, 1, 1})
	grad.SetSRM("embedding", srm)

	require.NoError(t, m.Push(grad, nil, 1))

	dirty := m.ol.Drain()
	assert.Equal(t, []uint64{9}, dirty["embedding"])
}

func TestModelShardInitLockRejectsWithOLStore(t *testing.T) {
	m := newTestShard(t)
	m.InitOLStore()
	err := m.InitLock()
	assert.Error(t, err)
}

func TestModelShardExpireTSStoreRemovesStaleRows(t *testing.T) {
	m := newTestShard(t)
	m.InitTSStore(0, 10)

	srm, _ := m.Param().SRM("embedding")
	srm.SetRow(1, make([]model.Float, 4))
	srm.SetRow(2, make([]model.Float, 4))
	m.ts.Bump("embedding", 1, 0)
	m.ts.Bump("embedding", 2, 100)

	m.ExpireTSStore(20)

	_, ok := srm.Lookup(1)
	assert.False(t, ok, "row last touched at t=0 must expire by t=20 with threshold=10")
	_, ok = srm.Lookup(2)
	assert.True(t, ok, "row touched at t=100 must survive")
}

func TestModelShardRemoveZerosParam(t *testing.T) {
	m := newTestShard(t)
	srm, _ := m.Param().SRM("embedding")
	srm.SetRow(1, make([]model.Float, 4))
	srm.SetRow(2, []model.Float{1, 0, 0, 0})

	m.RemoveZerosParam()

	_, ok := srm.Lookup(1)
	assert.False(t, ok)
	_, ok = srm.Lookup(2)
	assert.True(t, ok)
}
