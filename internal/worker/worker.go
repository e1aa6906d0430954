// Package worker implements TrainerContext: the process that
// pulls input files from the Coordinator Server, reads mini-batches
// through an instreader.Reader, runs forward/backward against the graph
// through the narrow opctx.OpContext boundary, and splits/ships
// Pull/Push to a set of ModelShards.
//
// Three flavors share the batch-processing shape above a different shard
// transport: Dist ships Pull/Push over the raw wire codec to N remote
// ModelShards — the one that exercises the network protocol this module
// owns. Shard keeps N ModelShards in-process, one modelshard.Pool per
// shard, and fans Pull/Push out to them asynchronously via
// AsyncPull/AsyncPush, waiting on every shard's Handle before continuing —
// useful for single-machine topologies that still want per-shard
// ownership and locking boundaries without a socket. NonShard wraps a
// single local ModelShard directly with no splitting at all, useful for
// the supplemented single-process predictor and for tests that want to
// exercise the forward/backward wiring without either.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"deepx/internal/instreader"
	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/opctx"
	"deepx/internal/shardfn"
	"deepx/internal/stats"
	"deepx/internal/wire"
)

// pollInterval is the "magic sleep" a worker waits before re-asking the
// coordinator for a file when the current epoch is exhausted but other
// workers still have files in flight.
const pollInterval = 5 * time.Second

// OpenFile opens path (typically via an fsx.FileSystem) and returns an
// instreader.Reader over its contents plus the underlying closer.
type OpenFile func(ctx context.Context, path string) (instreader.Reader, io.Closer, error)

// Config holds the parameters one worker process needs at startup.
type Config struct {
	WorkerID    string
	CSAddr      string
	PSAddrs     []string
	Batch       int
	IsTrain     bool
	FreqEnabled bool
	// DialRetries/DialBackoff bound the "connect to all PS / CS with
	// retry" startup step.
	DialRetries int
	DialBackoff time.Duration
}

// Dist is the distributed worker flavor: N remote ModelShards addressed
// over persistent TCP connections, one per PS, plus one connection to the
// coordinator.
type Dist struct {
	cfg   Config
	log   *zap.Logger
	stats *stats.Stats
	shard shardfn.Shard
	oc    opctx.OpContext
	open  OpenFile

	// OnPredictions, when set, is invoked once per mini-batch in predict
	// mode with that batch's probabilities,
	// letting the caller stream them to --out_predict.
	OnPredictions func(file string, preds []model.Float) error

	psConns []net.Conn
	csConn  net.Conn

	perPullReq   []*model.PullRequest
	perPullResp  []*model.TensorMap
	perGrad      []*model.TensorMap
	perOverwrite []*model.TensorMap
}

// NewDist constructs a Dist worker. shard must have N == len(cfg.PSAddrs);
// PSAddrs[i] is dialed for shard i.
func NewDist(cfg Config, shard shardfn.Shard, oc opctx.OpContext, open OpenFile, log *zap.Logger, st *stats.Stats) *Dist {
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = 10
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 400 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := len(cfg.PSAddrs)
	perPullReq := make([]*model.PullRequest, n)
	for i := range perPullReq {
		perPullReq[i] = model.NewPullRequest()
	}
	return &Dist{
		cfg: cfg, log: log, stats: st, shard: shard, oc: oc, open: open,
		perPullReq:   perPullReq,
		perPullResp:  make([]*model.TensorMap, n),
		perGrad:      make([]*model.TensorMap, n),
		perOverwrite: make([]*model.TensorMap, n),
	}
}

// Connect dials every PS and the coordinator with retry. Mid-job
// socket errors are fatal ; Connect is only meant to absorb
// startup ordering races between processes in the same job.
func (d *Dist) Connect(ctx context.Context) error {
	d.psConns = make([]net.Conn, len(d.cfg.PSAddrs))
	for i, addr := range d.cfg.PSAddrs {
		conn, err := dialRetry(ctx, addr, d.cfg.DialRetries, d.cfg.DialBackoff)
		if err != nil {
			return errors.Wrapf(err, "worker: connect ps[%d] %s", i, addr)
		}
		d.psConns[i] = conn
	}
	conn, err := dialRetry(ctx, d.cfg.CSAddr, d.cfg.DialRetries, d.cfg.DialBackoff)
	if err != nil {
		return errors.Wrap(err, "worker: connect cs")
	}
	d.csConn = conn
	return nil
}

// Close disconnects from every PS and the coordinator.
func (d *Dist) Close() {
	for _, c := range d.psConns {
		if c != nil {
			c.Close()
		}
	}
	if d.csConn != nil {
		d.csConn.Close()
	}
}

func dialRetry(ctx context.Context, addr string, retries int, backoff time.Duration) (net.Conn, error) {
	var lastErr error
	var dialer net.Dialer
	for i := 0; i < retries; i++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// Run drives the worker's main loop: repeatedly ask
// the coordinator for a file, process it batch-by-batch, and report its
// loss/weight back, until the coordinator reports the job done.
func (d *Dist) Run(ctx context.Context) error {
	for {
		resp, err := d.rpcFileRequest(ctx)
		if err != nil {
			return errors.Wrap(err, "worker: file request")
		}
		if resp.Done {
			return nil
		}
		if resp.File == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		loss, weight, err := d.processFile(ctx, resp.File)
		if err != nil {
			return errors.Wrapf(err, "worker: process file %q", resp.File)
		}
		if err := d.rpcFileFinishNotify(ctx, resp.File, loss, weight); err != nil {
			return errors.Wrap(err, "worker: file finish notify")
		}
	}
}

// processFile streams mini-batches from path and runs them through
// Pull → Forward → (train:) Backward → Push, accumulating the file's total
// loss and weight.
func (d *Dist) processFile(ctx context.Context, path string) (loss, weight float64, err error) {
	reader, closer, err := d.open(ctx, path)
	if err != nil {
		return 0, 0, errors.Wrap(err, "open input")
	}
	defer closer.Close()

	for {
		batch, err := reader.Next(d.cfg.Batch)
		if err == io.EOF {
			return loss, weight, nil
		}
		if err != nil {
			return loss, weight, errors.Wrap(err, "read batch")
		}

		bLoss, bWeight, err := d.processBatch(ctx, path, batch)
		if err != nil {
			return loss, weight, err
		}
		loss += bLoss * bWeight
		weight += bWeight
	}
}

func (d *Dist) processBatch(ctx context.Context, file string, batch instreader.Batch) (loss, weight float64, err error) {
	ids := make([]uint64, 0, len(batch)*4)
	labels := make([]model.Float, len(batch))
	weights := make([]model.Float, len(batch))
	for i, inst := range batch {
		ids = append(ids, inst.IDs...)
		labels[i] = inst.Label
		weights[i] = inst.Weight
	}
	if err := d.oc.LoadBatch(ids, labels, weights); err != nil {
		return 0, 0, errors.Wrap(err, "load batch")
	}

	req := model.NewPullRequest()
	if err := d.oc.GetPullRequest(req); err != nil {
		return 0, 0, errors.Wrap(err, "get pull request")
	}
	if d.cfg.FreqEnabled && d.cfg.IsTrain {
		fillBatchFreq(req, ids)
	}
	req.IsTrain = d.cfg.IsTrain

	modelshard.SplitPullRequest(d.shard, req, d.perPullReq)
	masks := make([]bool, len(d.perPullReq))
	for i, pr := range d.perPullReq {
		masks[i] = len(pr.TSRSet) > 0 || len(pr.SRMMap) > 0
	}

	for i := range d.perPullResp {
		d.perPullResp[i] = nil
	}
	for i, masked := range masks {
		if !masked {
			continue
		}
		resp, err := d.rpcPull(i, d.perPullReq[i])
		if err != nil {
			return 0, 0, errors.Wrapf(err, "pull shard %d", i)
		}
		d.perPullResp[i] = resp
	}
	if d.stats != nil {
		d.stats.ObservePull(pullRowCount(d.perPullReq))
	}

	merged := modelshard.MergePullResponses(d.perPullResp)
	d.oc.SetParam(merged)

	batchLoss, batchWeight, err := d.oc.Forward()
	if err != nil {
		return 0, 0, errors.Wrap(err, "forward")
	}

	if d.cfg.IsTrain {
		grad, overwritten, err := d.oc.Backward()
		if err != nil {
			return 0, 0, errors.Wrap(err, "backward")
		}
		modelshard.SplitGrad(d.shard, grad, d.perGrad)
		modelshard.SplitParam(d.shard, overwritten, d.perOverwrite)
		pushRows := 0
		for i, masked := range masks {
			if !masked {
				continue
			}
			pushRows += tensorMapRowCount(d.perGrad[i]) + tensorMapRowCount(d.perOverwrite[i])
			if err := d.rpcPush(i, d.perGrad[i], d.perOverwrite[i]); err != nil {
				return 0, 0, errors.Wrapf(err, "push shard %d", i)
			}
		}
		if d.stats != nil {
			d.stats.ObservePush(pushRows)
		}
	} else if d.OnPredictions != nil {
		if err := d.OnPredictions(file, d.oc.Predictions()); err != nil {
			return 0, 0, errors.Wrap(err, "emit predictions")
		}
	}

	return batchLoss, batchWeight, nil
}

// fillBatchFreq fills req.IDFreqMap with each id's occurrence count within
// this batch. This is the worker's local contribution; FreqStore on
// the owning shard tracks the authoritative lifetime count across batches.
func fillBatchFreq(req *model.PullRequest, ids []uint64) {
	for _, id := range ids {
		req.IDFreqMap[id]++
	}
}

func pullRowCount(reqs []*model.PullRequest) int {
	n := 0
	for _, r := range reqs {
		for _, ids := range r.SRMMap {
			n += len(ids)
		}
	}
	return n
}

func tensorMapRowCount(tm *model.TensorMap) int {
	if tm == nil {
		return 0
	}
	n := 0
	for _, name := range tm.SRMNames() {
		s, _ := tm.SRM(name)
		n += len(s.Ids())
	}
	return n
}

// csFileRequest sends a FileRequest on conn and returns the coordinator's
// FileResponse. Shared by Dist and Shard, which differ only in how they
// reach their ModelShards, not in how they talk to the coordinator.
func csFileRequest(conn net.Conn, workerID string) (wire.FileResponse, error) {
	req := wire.FileRequest{WorkerID: workerID}
	body, _ := json.Marshal(req)
	if err := wire.WriteFrame(conn, wire.KindFileRequest, body); err != nil {
		return wire.FileResponse{}, err
	}
	kind, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.FileResponse{}, err
	}
	if kind != wire.KindFileResponse {
		return wire.FileResponse{}, fmt.Errorf("worker: unexpected frame kind %d for FileResponse", kind)
	}
	var resp wire.FileResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return wire.FileResponse{}, err
	}
	return resp, nil
}

// csFileFinishNotify reports a finished file's loss/weight on conn and
// waits for the coordinator's Ack.
func csFileFinishNotify(conn net.Conn, file string, loss, weight float64) error {
	req := wire.FileFinishNotify{File: file, Loss: loss, Weight: weight}
	body, _ := json.Marshal(req)
	if err := wire.WriteFrame(conn, wire.KindFileFinishNotify, body); err != nil {
		return err
	}
	kind, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if kind != wire.KindAck {
		return fmt.Errorf("worker: unexpected frame kind %d for Ack", kind)
	}
	var ack wire.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("worker: coordinator reported error: %s", ack.Error)
	}
	return nil
}

func (d *Dist) rpcFileRequest(ctx context.Context) (wire.FileResponse, error) {
	return csFileRequest(d.csConn, d.cfg.WorkerID)
}

func (d *Dist) rpcFileFinishNotify(ctx context.Context, file string, loss, weight float64) error {
	return csFileFinishNotify(d.csConn, file, loss, weight)
}

// rpcPull sends a PullRequest to shard i's PS and returns the zero-copy
// param view decoded from its PullResponse. The returned TensorMap's views
// are valid until the next Pull on this same connection, which is after the
// current batch's Push has completed.
func (d *Dist) rpcPull(i int, req *model.PullRequest) (*model.TensorMap, error) {
	conn := d.psConns[i]
	if err := wire.WriteFrame(conn, wire.KindPullRequest, wire.EncodePullRequest(req)); err != nil {
		return nil, err
	}
	kind, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if kind != wire.KindPullResponse {
		return nil, fmt.Errorf("worker: unexpected frame kind %d for PullResponse", kind)
	}
	return wire.DecodeTensorMapView(payload)
}

// rpcPush sends a PushNotify to shard i's PS and waits for its Ack, the
// ordering point that guarantees "a Push always happens after its
// corresponding Pull completes and before the next Pull on the same
// connection".
func (d *Dist) rpcPush(i int, grad, overwritten *model.TensorMap) error {
	if grad == nil {
		grad = model.NewTensorMap()
	}
	if overwritten == nil {
		overwritten = model.NewTensorMap()
	}
	conn := d.psConns[i]
	if err := wire.WriteFrame(conn, wire.KindPushNotify, wire.EncodePushPayload(grad, overwritten)); err != nil {
		return err
	}
	kind, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if kind != wire.KindAck {
		return fmt.Errorf("worker: unexpected frame kind %d for Ack", kind)
	}
	var ack wire.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("worker: ps reported error: %s", ack.Error)
	}
	return nil
}

// Terminate sends a TerminationNotify to every PS; nothing in this module
// calls it.
func (d *Dist) Terminate(reason string) {
	body, _ := json.Marshal(wire.TerminationNotify{Reason: reason})
	for _, conn := range d.psConns {
		_ = wire.WriteFrame(conn, wire.KindTerminationNotify, body)
		_, _, _ = wire.ReadFrame(conn)
	}
}

// NonShard is the single-process worker flavor: one local ModelShard, no
// network. It is used by the supplemented
// predictor and by tests exercising the
// forward/backward wiring without sockets.
type NonShard struct {
	shard *modelshard.ModelShard
	oc    opctx.OpContext
}

// NewNonShard constructs a NonShard worker around an already-initialized
// ModelShard.
func NewNonShard(shard *modelshard.ModelShard, oc opctx.OpContext) *NonShard {
	return &NonShard{shard: shard, oc: oc}
}

// PredictBatch runs one mini-batch through Pull → Forward only.
func (n *NonShard) PredictBatch(ids []uint64, labels, weights []model.Float) ([]model.Float, error) {
	if err := n.oc.LoadBatch(ids, labels, weights); err != nil {
		return nil, errors.Wrap(err, "load batch")
	}
	req := model.NewPullRequest()
	if err := n.oc.GetPullRequest(req); err != nil {
		return nil, errors.Wrap(err, "get pull request")
	}
	req.IsTrain = false
	out := model.NewTensorMap()
	if err := n.shard.Pull(req, out); err != nil {
		return nil, errors.Wrap(err, "pull")
	}
	n.oc.SetParam(out)
	if _, _, err := n.oc.Forward(); err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	return n.oc.Predictions(), nil
}

// Shard is the in-process sharded worker flavor: N local ModelShards, each
// driven by its own modelshard.Pool, run inside this process. It still
// dials the coordinator over the network for file dispatch, but Pull/Push
// fan out to local async pools instead of PS connections.
type Shard struct {
	cfg   Config
	log   *zap.Logger
	stats *stats.Stats
	shard shardfn.Shard
	oc    opctx.OpContext
	open  OpenFile

	shards []*modelshard.ModelShard
	pools  []*modelshard.Pool

	// OnPredictions, when set, is invoked once per mini-batch in predict
	// mode with that batch's probabilities.
	OnPredictions func(file string, preds []model.Float) error

	csConn net.Conn

	perPullReq   []*model.PullRequest
	perPullResp  []*model.TensorMap
	perGrad      []*model.TensorMap
	perOverwrite []*model.TensorMap
}

// NewShard constructs a Shard worker around already-initialized
// ModelShards, one per index of shard's configuration, and starts each
// one's async Pool. Call Close to stop them.
func NewShard(cfg Config, shard shardfn.Shard, oc opctx.OpContext, open OpenFile, shards []*modelshard.ModelShard, log *zap.Logger, st *stats.Stats) *Shard {
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = 10
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 400 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := len(shards)
	pools := make([]*modelshard.Pool, n)
	for i, ms := range shards {
		pools[i] = ms.InitThreadPool()
		pools[i].Start()
	}
	perPullReq := make([]*model.PullRequest, n)
	for i := range perPullReq {
		perPullReq[i] = model.NewPullRequest()
	}
	return &Shard{
		cfg: cfg, log: log, stats: st, shard: shard, oc: oc, open: open,
		shards:       shards,
		pools:        pools,
		perPullReq:   perPullReq,
		perPullResp:  make([]*model.TensorMap, n),
		perGrad:      make([]*model.TensorMap, n),
		perOverwrite: make([]*model.TensorMap, n),
	}
}

// Connect dials the coordinator with retry. There is no PS to dial: every
// ModelShard already lives in this process.
func (s *Shard) Connect(ctx context.Context) error {
	conn, err := dialRetry(ctx, s.cfg.CSAddr, s.cfg.DialRetries, s.cfg.DialBackoff)
	if err != nil {
		return errors.Wrap(err, "worker: connect cs")
	}
	s.csConn = conn
	return nil
}

// Close disconnects from the coordinator and stops every shard's Pool.
func (s *Shard) Close() {
	if s.csConn != nil {
		s.csConn.Close()
	}
	for _, p := range s.pools {
		p.Stop()
	}
}

// Run drives the worker's main loop, identical to Dist.Run's file dispatch
// protocol against the coordinator.
func (s *Shard) Run(ctx context.Context) error {
	for {
		resp, err := csFileRequest(s.csConn, s.cfg.WorkerID)
		if err != nil {
			return errors.Wrap(err, "worker: file request")
		}
		if resp.Done {
			return nil
		}
		if resp.File == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		loss, weight, err := s.processFile(ctx, resp.File)
		if err != nil {
			return errors.Wrapf(err, "worker: process file %q", resp.File)
		}
		if err := csFileFinishNotify(s.csConn, resp.File, loss, weight); err != nil {
			return errors.Wrap(err, "worker: file finish notify")
		}
	}
}

func (s *Shard) processFile(ctx context.Context, path string) (loss, weight float64, err error) {
	reader, closer, err := s.open(ctx, path)
	if err != nil {
		return 0, 0, errors.Wrap(err, "open input")
	}
	defer closer.Close()

	for {
		batch, err := reader.Next(s.cfg.Batch)
		if err == io.EOF {
			return loss, weight, nil
		}
		if err != nil {
			return loss, weight, errors.Wrap(err, "read batch")
		}

		bLoss, bWeight, err := s.processBatch(path, batch)
		if err != nil {
			return loss, weight, err
		}
		loss += bLoss * bWeight
		weight += bWeight
	}
}

// processBatch mirrors Dist.processBatch's Pull → Forward → (train:)
// Backward → Push sequence, but fans Pull/Push out to local pools via
// AsyncPull/AsyncPush and waits on every shard's Handle instead of
// round-tripping the wire codec.
func (s *Shard) processBatch(file string, batch instreader.Batch) (loss, weight float64, err error) {
	ids := make([]uint64, 0, len(batch)*4)
	labels := make([]model.Float, len(batch))
	weights := make([]model.Float, len(batch))
	for i, inst := range batch {
		ids = append(ids, inst.IDs...)
		labels[i] = inst.Label
		weights[i] = inst.Weight
	}
	if err := s.oc.LoadBatch(ids, labels, weights); err != nil {
		return 0, 0, errors.Wrap(err, "load batch")
	}

	req := model.NewPullRequest()
	if err := s.oc.GetPullRequest(req); err != nil {
		return 0, 0, errors.Wrap(err, "get pull request")
	}
	if s.cfg.FreqEnabled && s.cfg.IsTrain {
		fillBatchFreq(req, ids)
	}
	req.IsTrain = s.cfg.IsTrain

	modelshard.SplitPullRequest(s.shard, req, s.perPullReq)
	masks := make([]bool, len(s.perPullReq))
	for i, pr := range s.perPullReq {
		masks[i] = len(pr.TSRSet) > 0 || len(pr.SRMMap) > 0
	}

	for i := range s.perPullResp {
		s.perPullResp[i] = nil
	}
	pullHandles := make([]*modelshard.Handle, len(s.pools))
	for i, masked := range masks {
		if !masked {
			continue
		}
		out := model.NewTensorMap()
		s.perPullResp[i] = out
		pullHandles[i] = s.pools[i].AsyncPull(s.perPullReq[i], out)
	}
	for i, h := range pullHandles {
		if h == nil {
			continue
		}
		if err := h.Wait(); err != nil {
			return 0, 0, errors.Wrapf(err, "pull shard %d", i)
		}
	}
	if s.stats != nil {
		s.stats.ObservePull(pullRowCount(s.perPullReq))
	}

	merged := modelshard.MergePullResponses(s.perPullResp)
	s.oc.SetParam(merged)

	batchLoss, batchWeight, err := s.oc.Forward()
	if err != nil {
		return 0, 0, errors.Wrap(err, "forward")
	}

	if s.cfg.IsTrain {
		grad, overwritten, err := s.oc.Backward()
		if err != nil {
			return 0, 0, errors.Wrap(err, "backward")
		}
		modelshard.SplitGrad(s.shard, grad, s.perGrad)
		modelshard.SplitParam(s.shard, overwritten, s.perOverwrite)
		now := time.Now().Unix()
		pushHandles := make([]*modelshard.Handle, len(s.pools))
		pushRows := 0
		for i, masked := range masks {
			if !masked {
				continue
			}
			pushRows += tensorMapRowCount(s.perGrad[i]) + tensorMapRowCount(s.perOverwrite[i])
			pushHandles[i] = s.pools[i].AsyncPush(s.perGrad[i], s.perOverwrite[i], now)
		}
		for i, h := range pushHandles {
			if h == nil {
				continue
			}
			if err := h.Wait(); err != nil {
				return 0, 0, errors.Wrapf(err, "push shard %d", i)
			}
		}
		if s.stats != nil {
			s.stats.ObservePush(pushRows)
		}
	} else if s.OnPredictions != nil {
		if err := s.OnPredictions(file, s.oc.Predictions()); err != nil {
			return 0, 0, errors.Wrap(err, "emit predictions")
		}
	}

	return batchLoss, batchWeight, nil
}
