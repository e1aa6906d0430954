package coordinator

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepx/internal/wire"
)

func newTestServer(files []string, epochs int) *Server {
	return New(Config{Files: files, Epochs: epochs}, zap.NewNop())
}

func requestFile(t *testing.T, s *Server) wire.FileResponse {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		kind, payload, err := wire.ReadFrame(server)
		require.NoError(t, err)
		require.Equal(t, wire.KindFileRequest, kind)
		s.OnFileRequest(context.Background(), server, payload)
	}()
	require.NoError(t, wire.WriteFrame(client, wire.KindFileRequest, mustJSON(wire.FileRequest{WorkerID: "w1"})))
	kind, payload, err := wire.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wire.KindFileResponse, kind)
	var resp wire.FileResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	return resp
}

func finishFile(t *testing.T, s *Server, file string, loss, weight float64) {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		kind, payload, err := wire.ReadFrame(server)
		require.NoError(t, err)
		require.Equal(t, wire.KindFileFinishNotify, kind)
		s.OnFileFinishNotify(context.Background(), server, payload)
	}()
	req := wire.FileFinishNotify{File: file, Loss: loss, Weight: weight}
	require.NoError(t, wire.WriteFrame(client, wire.KindFileFinishNotify, mustJSON(req)))
	kind, _, err := wire.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, wire.KindAck, kind)
}

func TestFileRequestServesEachFileOnce(t *testing.T) {
	s := newTestServer([]string{"a.txt", "b.txt"}, 1)

	r1 := requestFile(t, s)
	require.False(t, r1.Done)
	require.NotEmpty(t, r1.File)

	r2 := requestFile(t, s)
	require.False(t, r2.Done)
	require.NotEmpty(t, r2.File)
	assert.NotEqual(t, r1.File, r2.File)

	// both files in flight now; a third request gets an empty poll response
	r3 := requestFile(t, s)
	assert.Empty(t, r3.File)
	assert.False(t, r3.Done)
}

func TestFileFinishNotifyDrainsEpochAndMarksDone(t *testing.T) {
	s := newTestServer([]string{"a.txt"}, 1)

	r1 := requestFile(t, s)
	require.Equal(t, "a.txt", r1.File)

	finishFile(t, s, "a.txt", 0.5, 2)
	loss, weight := s.EpochLoss()
	assert.InDelta(t, 1.0, loss, 1e-9)
	assert.InDelta(t, 2.0, weight, 1e-9)

	r2 := requestFile(t, s)
	assert.True(t, r2.Done)
}

func TestFileRequestAdvancesEpoch(t *testing.T) {
	s := newTestServer([]string{"a.txt"}, 2)

	r1 := requestFile(t, s)
	require.Equal(t, "a.txt", r1.File)
	require.Equal(t, 0, r1.Epoch)

	finishFile(t, s, "a.txt", 0, 1)

	r2 := requestFile(t, s)
	require.False(t, r2.Done)
	assert.Equal(t, "a.txt", r2.File)
	assert.Equal(t, 1, r2.Epoch)
}

func TestReclaimExpiredRequeuesTimedOutFile(t *testing.T) {
	s := newTestServer([]string{"a.txt"}, 1)
	s.cfg.FileTimeout = time.Millisecond

	r1 := requestFile(t, s)
	require.Equal(t, "a.txt", r1.File)

	time.Sleep(5 * time.Millisecond)
	s.reclaimExpired()

	r2 := requestFile(t, s)
	assert.Equal(t, "a.txt", r2.File)
}
