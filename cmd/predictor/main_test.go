package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/opctx"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
	"deepx/internal/wire"
	"deepx/internal/worker"
)

func testSchema() modelshard.Schema {
	return modelshard.Schema{
		{Name: "embedding", Kind: modelshard.KindSRM, Col: 4, Init: model.Initializer{Kind: model.InitZeros}},
	}
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Config{Name: "sgd"})
	require.NoError(t, err)
	ms := modelshard.New(sh, 0, testSchema(), opt, 1)
	ms.InitModel()
	ns := worker.NewNonShard(ms, opctx.NewSchemaContext(testSchema()))
	return &server{ns: ns, log: zap.NewNop()}
}

func TestServerPredict(t *testing.T) {
	s := newTestServer(t)
	req := wire.PredictRequest{IDs: []uint64{1, 2}, Weight: 1}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	resp := s.predict(payload)
	assert.Empty(t, resp.Error)
	assert.Equal(t, 0.0, resp.Score)
}

func TestServerPredictMalformedPayload(t *testing.T) {
	s := newTestServer(t)
	resp := s.predict([]byte("not json"))
	assert.NotEmpty(t, resp.Error)
}
