package worker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepx/internal/instreader"
	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/opctx"
	"deepx/internal/optimizer"
	"deepx/internal/psserver"
	"deepx/internal/shardfn"
	"deepx/internal/wire"
)

func testSchema() modelshard.Schema {
	return modelshard.Schema{
		{Name: "embedding", Kind: modelshard.KindSRM, Col: 2, Init: model.Initializer{Kind: model.InitZeros}},
	}
}

// fakeCoordinator answers exactly one FileRequest with the given file and
// then Done=true on the next, and acks every FileFinishNotify — enough to
// drive Dist.Run through one file end to end.
func fakeCoordinator(t *testing.T, file string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		served := false
		for {
			kind, payload, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			switch kind {
			case wire.KindFileRequest:
				var resp wire.FileResponse
				if !served {
					resp = wire.FileResponse{File: file, Epoch: 0}
					served = true
				} else {
					resp = wire.FileResponse{Done: true}
				}
				body, _ := json.Marshal(resp)
				_ = wire.WriteFrame(conn, wire.KindFileResponse, body)
			case wire.KindFileFinishNotify:
				body, _ := json.Marshal(wire.Ack{OK: true})
				_ = wire.WriteFrame(conn, wire.KindAck, body)
			}
		}
	}()
	return ln.Addr().String()
}

func fakePS(t *testing.T) (string, *modelshard.ModelShard) {
	t.Helper()
	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0.5})
	require.NoError(t, err)
	ms := modelshard.New(sh, 0, testSchema(), opt, 7)
	ms.InitModel()

	srv := psserver.New(psserver.Config{Threads: 1}, ms, nil, zap.NewNop(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(context.Background(), ln)
	return ln.Addr().String(), ms
}

// TestDistRunTrainsOneFile drives a Dist worker through Connect/Run against
// a fake coordinator and a real psserver.Server over loopback TCP,
// asserting that the training Pull lazily created the shard's embedding
// rows for the two feature ids the stub requests.
func TestDistRunTrainsOneFile(t *testing.T) {
	psAddr, ms := fakePS(t)
	file := "fixture.libsvm"
	csAddr := fakeCoordinator(t, file)

	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	require.NoError(t, err)

	oc := &opctx.Stub{
		SRMIds: map[string][]uint64{"embedding": {1, 2}},
		Loss:   0.5,
		Weight: 2,
	}

	open := func(ctx context.Context, path string) (instreader.Reader, io.Closer, error) {
		r := instreader.NewLibSVM(strings.NewReader("1 1:1 2:1\n0 2:1 3:1\n"))
		return r, io.NopCloser(nil), nil
	}

	cfg := Config{
		WorkerID: "w0",
		CSAddr:   csAddr,
		PSAddrs:  []string{psAddr},
		Batch:    10,
		IsTrain:  true,
	}
	d := NewDist(cfg, sh, oc, open, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Connect(ctx))
	defer d.Close()

	require.NoError(t, d.Run(ctx))

	srm, ok := ms.Param().SRM("embedding")
	require.True(t, ok)
	require.Equal(t, 2, srm.Size())
}

// TestShardRunTrainsOneFileAcrossShards drives a Shard worker over N=3
// in-process ModelShards through Connect/Run against a fake coordinator,
// asserting every feature id touched by the fixture landed on its
// SRMShardId-owning shard and nowhere else.
func TestShardRunTrainsOneFileAcrossShards(t *testing.T) {
	const n = 3
	sh, err := shardfn.Init(shardfn.ModeHash, n, shardfn.FuncXXHash)
	require.NoError(t, err)

	shards := make([]*modelshard.ModelShard, n)
	for i := range shards {
		opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0.5})
		require.NoError(t, err)
		ms := modelshard.New(sh, i, testSchema(), opt, int64(7+i))
		ms.InitModel()
		shards[i] = ms
	}

	file := "fixture.libsvm"
	csAddr := fakeCoordinator(t, file)

	oc := &opctx.Stub{
		SRMIds: map[string][]uint64{"embedding": {1, 2, 3, 4}},
		Loss:   0.5,
		Weight: 2,
	}

	open := func(ctx context.Context, path string) (instreader.Reader, io.Closer, error) {
		r := instreader.NewLibSVM(strings.NewReader("1 1:1 2:1\n0 3:1 4:1\n"))
		return r, io.NopCloser(nil), nil
	}

	cfg := Config{
		WorkerID: "w0",
		CSAddr:   csAddr,
		Batch:    10,
		IsTrain:  true,
	}
	w := NewShard(cfg, sh, oc, open, shards, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Connect(ctx))
	defer w.Close()

	require.NoError(t, w.Run(ctx))

	total := 0
	for i, ms := range shards {
		srm, ok := ms.Param().SRM("embedding")
		if !ok {
			continue
		}
		srm.Range(func(id uint64, row *model.Row) {
			require.Equal(t, i, sh.SRMShardId(id), "id %d landed on shard %d, want %d", id, i, sh.SRMShardId(id))
		})
		total += srm.Size()
	}
	require.Equal(t, 4, total)
}
