// Package psserver implements the Param Server process: one
// ModelShard served over raw TCP connections using the length-prefixed
// wire protocol in internal/wire. A PS cannot be built on net/http because
// the binary tensor payloads (PullResponse, PushNotify) must be readable as
// zero-copy views over the inbound connection buffer for the duration of
// a handler — net/http's body reader and the Go HTTP
// server's buffering make that guarantee unreachable. Control-plane
// messages (ModelSaveRequest, TerminationNotify) are JSON, but still
// travel inside the same length-prefixed frames (internal/wire/messages.go).
package psserver

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"deepx/internal/fsx"
	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/stats"
	"deepx/internal/wire"
)

// Config holds the parameters one Param Server process needs at startup.
type Config struct {
	ListenAddr string
	// Threads is config.thread: the number of worker goroutines reading
	// from the shared accept queue.
	Threads int
	// OutModel is the model directory every Save* operation writes under.
	OutModel string
	// OutTextModel/OutFeatureKVModel/FeatureKVVersion mirror
	// the CLI flags gating which artifacts OnModelSaveRequest persists.
	OutTextModel      bool
	OutFeatureKVModel bool
	FeatureKVVersion  int
}

// Server is one Param Server: a single ModelShard plus whatever this PS's
// share of save/load configuration requires.
type Server struct {
	cfg   Config
	shard *modelshard.ModelShard
	fs    fsx.FileSystem
	log   *zap.Logger
	stats *stats.Stats

	graph []byte // set via SetGraphBlob; only meaningful when isPrimary

	mu          sync.Mutex
	terminating bool
}

// New constructs a Server around an already-initialized ModelShard.
func New(cfg Config, shard *modelshard.ModelShard, fs fsx.FileSystem, log *zap.Logger, st *stats.Stats) *Server {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	return &Server{cfg: cfg, shard: shard, fs: fs, log: log, stats: st}
}

// SetGraphBlob installs the compiled graph bytes this PS writes alongside
// the shard manifest on save when it is the primary.
func (s *Server) SetGraphBlob(blob []byte) { s.graph = blob }

// Serve listens on cfg.ListenAddr and runs cfg.Threads worker goroutines
// pulling accepted connections from a shared queue, blocking until ctx is canceled or a
// TerminationNotify arrives on some connection.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "psserver: listen")
	}
	defer ln.Close()
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept-loop-plus-worker-goroutines body of Serve
// over an already-bound listener, letting callers (tests, or a process
// that wants to report its bound port before blocking) choose the
// listener themselves.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	conns := make(chan net.Conn)
	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Threads; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for conn := range conns {
				s.handleConn(ctx, conn, cancel)
			}
		}()
	}

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				acceptErr = nil
			} else {
				acceptErr = errors.Wrap(err, "psserver: accept")
			}
			break
		}
		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close()
		}
	}
	close(conns)
	workers.Wait()
	return acceptErr
}

// SessionData holds reusable per-connection buffers. Every
// handler on this connection clears and refills these instead of
// allocating fresh ones.
type SessionData struct {
	conn        net.Conn
	pullReq     *model.PullRequest
	param       *model.TensorMap
	grad        *model.TensorMap
	overwritten *model.TensorMap
}

func newSession(conn net.Conn) *SessionData {
	return &SessionData{
		conn:        conn,
		pullReq:     model.NewPullRequest(),
		param:       model.NewTensorMap(),
		grad:        model.NewTensorMap(),
		overwritten: model.NewTensorMap(),
	}
}

// OnAccept attaches a fresh SessionData to a newly accepted connection
// ("OnAccept(conn) — attach session").
func (s *Server) OnAccept(conn net.Conn) *SessionData { return newSession(conn) }

func (s *Server) handleConn(ctx context.Context, conn net.Conn, stopServer context.CancelFunc) {
	defer conn.Close()
	sess := s.OnAccept(conn)
	for {
		kind, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return // connection closed: session ends, nothing to clean up
		}
		switch kind {
		case wire.KindPullRequest:
			s.OnPullRequest(sess, payload)
		case wire.KindPushNotify:
			s.OnPushNotify(sess, payload)
		case wire.KindModelSaveRequest:
			s.OnModelSaveRequest(ctx, sess, payload)
		case wire.KindTerminationNotify:
			s.OnTerminationNotify(sess, payload, stopServer)
			return
		default:
			s.log.Warn("psserver: unexpected frame kind on PS connection", zap.Uint8("kind", uint8(kind)))
			return
		}
	}
}

// OnPullRequest decodes a PullRequest from the inbound frame, serves it
// against the local ModelShard, and replies with the resulting parameter
// view ("OnPullRequest(conn) — decode PullRequest from inbound
// bytes; call model_shard.Pull; encode param into outbound bytes. All
// reads are zero-copy views over the inbound buffer").
func (s *Server) OnPullRequest(sess *SessionData, payload []byte) {
	if err := wire.DecodePullRequestInto(sess.pullReq, payload); err != nil {
		s.log.Error("psserver: decode pull request", zap.Error(err))
		return
	}
	sess.param.Clear()
	if err := s.shard.Pull(sess.pullReq, sess.param); err != nil {
		s.log.Error("psserver: pull", zap.Error(err))
		return
	}
	if s.stats != nil {
		s.stats.ObservePull(pullRowCount(sess.pullReq))
	}
	if err := wire.WriteFrame(sess.conn, wire.KindPullResponse, wire.EncodeTensorMap(sess.param)); err != nil {
		s.log.Error("psserver: write pull response", zap.Error(err))
	}
}

func pullRowCount(req *model.PullRequest) int {
	n := 0
	for _, ids := range req.SRMMap {
		n += len(ids)
	}
	return n
}

// OnPushNotify decodes grad and overwritten_param as zero-copy views over
// the inbound frame and applies them to the local ModelShard (// "OnPushNotify(conn) — zero-copy decode of grad and overwritten_param
// tensors; call model_shard.Push"). The PS replies with an Ack so the
// worker's ordering guarantee has something to wait on.
func (s *Server) OnPushNotify(sess *SessionData, payload []byte) {
	gradBuf, overwrittenBuf, err := wire.SplitPushPayload(payload)
	if err != nil {
		s.log.Error("psserver: split push payload", zap.Error(err))
		s.ack(sess.conn, err)
		return
	}
	if err := wire.DecodeTensorMapViewInto(sess.grad, gradBuf); err != nil {
		s.log.Error("psserver: decode push grad", zap.Error(err))
		s.ack(sess.conn, err)
		return
	}
	if err := wire.DecodeTensorMapViewInto(sess.overwritten, overwrittenBuf); err != nil {
		s.log.Error("psserver: decode push overwritten", zap.Error(err))
		s.ack(sess.conn, err)
		return
	}
	rows := pushRowCount(sess.grad) + pushRowCount(sess.overwritten)
	if err := s.shard.Push(sess.grad, sess.overwritten, time.Now().Unix()); err != nil {
		s.log.Error("psserver: push", zap.Error(err))
		s.ack(sess.conn, err)
		return
	}
	if s.stats != nil {
		s.stats.ObservePush(rows)
	}
	s.ack(sess.conn, nil)
}

func pushRowCount(tm *model.TensorMap) int {
	n := 0
	for _, name := range tm.SRMNames() {
		srm, _ := tm.SRM(name)
		n += len(srm.Ids())
	}
	return n
}

// OnModelSaveRequest runs the save pipeline described in: this PS
// applies RemoveZerosSRM and ExpireTSStore first when req asks for them,
// persists the primary's graph + shard manifest when req.IsPrimary, then
// persists model/text-model/feature-kv-model/optimizer/TS/Freq per its own
// enabled flags, and only writes the SUCCESS marker once every one of
// those writes has succeeded.
func (s *Server) OnModelSaveRequest(ctx context.Context, sess *SessionData, payload []byte) {
	var req wire.ModelSaveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.ack(sess.conn, errors.Wrap(err, "psserver: decode ModelSaveRequest"))
		return
	}

	if req.RemoveZeros {
		s.shard.RemoveZerosParam()
	}
	if req.ExpireBeforeSave {
		s.shard.ExpireTSStore(req.Now)
	}

	err := s.runSave(ctx, req)
	if err != nil {
		s.log.Error("psserver: model save", zap.Error(err))
	}
	s.ack(sess.conn, err)
}

func (s *Server) runSave(ctx context.Context, req wire.ModelSaveRequest) error {
	if req.IsPrimary {
		if err := modelshard.SaveShardManifest(ctx, s.fs, s.cfg.OutModel, s.shard.Shard); err != nil {
			return errors.Wrap(err, "save shard manifest")
		}
		if len(s.graph) > 0 {
			if err := modelshard.SaveGraphBlob(ctx, s.fs, s.cfg.OutModel, s.graph); err != nil {
				return errors.Wrap(err, "save graph blob")
			}
		}
	}
	if err := s.shard.SaveModel(ctx, s.fs, s.cfg.OutModel); err != nil {
		return errors.Wrap(err, "save model")
	}
	if s.cfg.OutTextModel {
		if err := s.shard.SaveTextModel(ctx, s.fs, s.cfg.OutModel); err != nil {
			return errors.Wrap(err, "save text model")
		}
	}
	if s.cfg.OutFeatureKVModel {
		if err := s.shard.SaveFeatureKVModel(ctx, s.fs, s.cfg.OutModel, s.cfg.FeatureKVVersion); err != nil {
			return errors.Wrap(err, "save feature-kv model")
		}
	}
	if err := s.shard.SaveOptimizer(ctx, s.fs, s.cfg.OutModel); err != nil {
		return errors.Wrap(err, "save optimizer")
	}
	if err := s.shard.SaveTSStore(ctx, s.fs, s.cfg.OutModel); err != nil {
		return errors.Wrap(err, "save ts store")
	}
	if err := s.shard.SaveFreqStore(ctx, s.fs, s.cfg.OutModel); err != nil {
		return errors.Wrap(err, "save freq store")
	}
	return errors.Wrap(s.shard.SaveSuccess(ctx, s.fs, s.cfg.OutModel), "save success marker")
}

// OnTerminationNotify acknowledges the graceful-shutdown trigger and stops
// the listener so Serve returns ("OnTerminationNotify(conn) —
// graceful shutdown trigger").
func (s *Server) OnTerminationNotify(sess *SessionData, payload []byte, stopServer context.CancelFunc) {
	var notify wire.TerminationNotify
	_ = json.Unmarshal(payload, &notify) // best-effort; Reason is informational
	s.log.Info("psserver: termination notify received", zap.String("reason", notify.Reason))
	s.ack(sess.conn, nil)

	s.mu.Lock()
	already := s.terminating
	s.terminating = true
	s.mu.Unlock()
	if !already {
		stopServer()
	}
}

func (s *Server) ack(conn net.Conn, err error) {
	a := wire.Ack{OK: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	body, marshalErr := json.Marshal(a)
	if marshalErr != nil {
		s.log.Error("psserver: marshal ack", zap.Error(marshalErr))
		return
	}
	if writeErr := wire.WriteFrame(conn, wire.KindAck, body); writeErr != nil {
		s.log.Error("psserver: write ack", zap.Error(writeErr))
	}
}
