package psserver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
	"deepx/internal/wire"
)

func testSchema() modelshard.Schema {
	return modelshard.Schema{
		{Name: "w", Kind: modelshard.KindTSR, Shape: model.Shape{4}, Init: model.Initializer{Kind: model.InitZeros}},
		{Name: "embedding", Kind: modelshard.KindSRM, Col: 4, Init: model.Initializer{Kind: model.InitZeros}},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0.1})
	require.NoError(t, err)
	shard := modelshard.New(sh, 0, testSchema(), opt, 42)
	shard.InitModel()
	return New(Config{Threads: 1}, shard, nil, zap.NewNop(), nil)
}

// TestPullPushRoundTrip exercises OnPullRequest then OnPushNotify over an
// in-memory connection pair, the same handler path handleConn drives on a
// real net.Conn.
func TestPullPushRoundTrip(t *testing.T) {
	s := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	sess := s.OnAccept(serverConn)

	go func() {
		kind, payload, err := wire.ReadFrame(serverConn)
		require.NoError(t, err)
		require.Equal(t, wire.KindPullRequest, kind)
		s.OnPullRequest(sess, payload)
	}()

	req := model.NewPullRequest()
	req.IsTrain = true
	req.AddTSR("w")
	req.AddSRMID("embedding", 3)
	require.NoError(t, wire.WriteFrame(clientConn, wire.KindPullRequest, wire.EncodePullRequest(req)))

	kind, payload, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.KindPullResponse, kind)
	tm, err := wire.DecodeTensorMapView(payload)
	require.NoError(t, err)
	_, ok := tm.TSR("w")
	assert.True(t, ok)
	srm, ok := tm.SRM("embedding")
	require.True(t, ok)
	assert.Equal(t, 1, srm.Size())

	grad := model.NewTensorMap()
	w := model.NewTSR(model.Shape{4})
	copy(w.Data(), []model.Float{1, 1, 1, 1})
	grad.SetTSR("w", w)
	overwritten := model.NewTensorMap()

	go func() {
		kind, payload, err := wire.ReadFrame(serverConn)
		require.NoError(t, err)
		require.Equal(t, wire.KindPushNotify, kind)
		s.OnPushNotify(sess, payload)
	}()

	require.NoError(t, wire.WriteFrame(clientConn, wire.KindPushNotify, wire.EncodePushPayload(grad, overwritten)))
	kind, ackBody, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAck, kind)
	assert.Contains(t, string(ackBody), `"ok":true`)

	p, ok := s.shard.Param().TSR("w")
	require.True(t, ok)
	for _, v := range p.Data() {
		assert.InDelta(t, -0.1, float64(v), 1e-6)
	}
}

func TestTerminationNotifyStopsServer(t *testing.T) {
	s := newTestServer(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	sess := s.OnAccept(serverConn)

	stopped := false
	stop := func() { stopped = true }

	go func() {
		kind, payload, err := wire.ReadFrame(serverConn)
		require.NoError(t, err)
		require.Equal(t, wire.KindTerminationNotify, kind)
		s.OnTerminationNotify(sess, payload, stop)
	}()

	require.NoError(t, wire.WriteFrame(clientConn, wire.KindTerminationNotify, []byte(`{"reason":"test"}`)))
	kind, _, err := wire.ReadFrame(clientConn)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAck, kind)
	assert.True(t, stopped)
}
