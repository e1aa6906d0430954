// Package coordinator implements the Coordinator Server: the
// single process that hands out input files to workers epoch by epoch and
// triggers model saves on the Param Servers at epoch boundaries. Transport
// is the same raw length-prefixed framing as the Param Server
// (internal/psserver) — control messages are small JSON bodies carried over
// internal/wire frames, never net/http.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"deepx/internal/wire"
)

// Config configures a Server.
type Config struct {
	ListenAddr string
	PSAddrs    []string
	Epochs     int
	Files      []string
	Reverse    bool
	Shuffle    bool
	// FileTimeout reclaims an in-flight file back to pending if no
	// FileFinishNotify arrives within this long; zero disables reclamation.
	FileTimeout time.Duration
	DumpModel   bool
	Seed        int64
}

// jobState is the coordinator's global per-job state, guarded by Server.mu
// (a single sync.Mutex).
type jobState struct {
	epoch       int
	pending     []string
	inFlight    map[string]time.Time
	epochLoss   float64
	epochWeight float64
	done        bool
}

// Server is the Coordinator Server.
type Server struct {
	cfg Config
	log *zap.Logger
	rng *rand.Rand

	mu    sync.Mutex
	job   jobState
	conns map[net.Conn]struct{}
}

// New builds a Server from cfg. cfg.Files is copied and shuffled/reversed
// for epoch 0 before the first FileRequest is served.
func New(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:   cfg,
		log:   log,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		conns: make(map[net.Conn]struct{}),
	}
	s.job = jobState{inFlight: make(map[string]time.Time)}
	s.job.pending = s.orderedFiles()
	return s
}

// orderedFiles returns a fresh copy of cfg.Files shuffled (if cfg.Shuffle)
// then reversed (if cfg.Reverse), matching the dispatch rule "pop the next
// file (shuffled per epoch if shuffle, reversed if reverse)".
func (s *Server) orderedFiles() []string {
	files := slices.Clone(s.cfg.Files)
	if s.cfg.Shuffle {
		s.rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	}
	if s.cfg.Reverse {
		slices.Reverse(files)
	}
	return files
}

// Serve accepts connections and dispatches frames until ctx is canceled,
// the same accept-loop-plus-worker-goroutines shape as psserver.Server.Serve
// but with one goroutine per connection instead of a fixed thread pool,
// since the coordinator's per-connection handlers are lightweight JSON
// request/response exchanges rather than tensor-bearing RPCs.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "coordinator: listen")
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()
	defer close(done)

	if s.cfg.FileTimeout > 0 {
		go s.reclaimLoop(ctx)
	}

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "coordinator: accept")
			}
		}
		s.trackConn(conn, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	for {
		kind, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		switch kind {
		case wire.KindFileRequest:
			s.OnFileRequest(ctx, conn, payload)
		case wire.KindFileFinishNotify:
			s.OnFileFinishNotify(ctx, conn, payload)
		default:
			s.log.Warn("coordinator: unexpected frame kind", zap.Uint8("kind", uint8(kind)))
			return
		}
	}
}

// OnFileRequest implements the FileRequest dispatch rules:
//   - epoch not exhausted: pop next file, mark in-flight, reply with it.
//   - exhausted but files in flight: reply with an empty file.
//   - exhausted, none in flight, more epochs left: advance epoch, reshuffle,
//     continue.
//   - fully done: reply empty forever.
func (s *Server) OnFileRequest(ctx context.Context, conn net.Conn, payload []byte) {
	var req wire.FileRequest
	_ = json.Unmarshal(payload, &req)

	s.mu.Lock()
	resp := s.nextFileLocked()
	s.mu.Unlock()

	if err := wire.WriteFrame(conn, wire.KindFileResponse, mustJSON(resp)); err != nil {
		s.log.Warn("coordinator: write FileResponse", zap.Error(err))
	}
}

// nextFileLocked must be called with s.mu held.
func (s *Server) nextFileLocked() wire.FileResponse {
	for {
		if s.job.done {
			return wire.FileResponse{Done: true}
		}
		if len(s.job.pending) > 0 {
			file := s.job.pending[0]
			s.job.pending = s.job.pending[1:]
			s.job.inFlight[file] = time.Now()
			return wire.FileResponse{File: file, Epoch: s.job.epoch}
		}
		if len(s.job.inFlight) > 0 {
			return wire.FileResponse{Epoch: s.job.epoch}
		}
		if s.job.epoch+1 < s.cfg.Epochs {
			s.advanceEpochLocked()
			continue
		}
		s.job.done = true
	}
}

// advanceEpochLocked must be called with s.mu held; it resets per-epoch
// accumulators and reorders the file list for the new epoch.
func (s *Server) advanceEpochLocked() {
	s.job.epoch++
	s.job.pending = s.orderedFiles()
	s.job.epochLoss = 0
	s.job.epochWeight = 0
}

// OnFileFinishNotify accumulates loss, removes the file from in-flight, and
// — when that drains the epoch on a dump_model run — triggers a
// ModelSaveRequest against every configured PS.
func (s *Server) OnFileFinishNotify(ctx context.Context, conn net.Conn, payload []byte) {
	var req wire.FileFinishNotify
	if err := json.Unmarshal(payload, &req); err != nil {
		s.ack(conn, errors.Wrap(err, "coordinator: decode FileFinishNotify"))
		return
	}

	s.mu.Lock()
	delete(s.job.inFlight, req.File)
	s.job.epochLoss += req.Loss * req.Weight
	s.job.epochWeight += req.Weight
	epoch := s.job.epoch
	drained := len(s.job.pending) == 0 && len(s.job.inFlight) == 0
	s.mu.Unlock()

	s.ack(conn, nil)

	if drained && s.cfg.DumpModel {
		go s.triggerSave(ctx, epoch)
	}
}

func (s *Server) ack(conn net.Conn, err error) {
	a := wire.Ack{OK: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	if werr := wire.WriteFrame(conn, wire.KindAck, mustJSON(a)); werr != nil {
		s.log.Warn("coordinator: write Ack", zap.Error(werr))
	}
}

// triggerSave dials every PS and sends a ModelSaveRequest, PS 0 marked
// primary so it also persists the graph and shard manifest.
func (s *Server) triggerSave(ctx context.Context, epoch int) {
	req := wire.ModelSaveRequest{Epoch: epoch, Now: time.Now().Unix()}
	for i, addr := range s.cfg.PSAddrs {
		r := req
		r.IsPrimary = i == 0
		if err := s.sendModelSaveRequest(ctx, addr, r); err != nil {
			s.log.Warn("coordinator: ModelSaveRequest failed", zap.String("ps", addr), zap.Error(err))
		}
	}
}

func (s *Server) sendModelSaveRequest(ctx context.Context, addr string, req wire.ModelSaveRequest) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial ps")
	}
	defer conn.Close()
	if err := wire.WriteFrame(conn, wire.KindModelSaveRequest, mustJSON(req)); err != nil {
		return errors.Wrap(err, "write ModelSaveRequest")
	}
	kind, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return errors.Wrap(err, "read Ack")
	}
	if kind != wire.KindAck {
		return fmt.Errorf("coordinator: unexpected reply kind %d", kind)
	}
	var ack wire.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return errors.Wrap(err, "decode Ack")
	}
	if !ack.OK {
		return fmt.Errorf("coordinator: ps reported error: %s", ack.Error)
	}
	return nil
}

// Broadcast sends msg of kind (for example a TerminationNotify) to every
// configured PS; nothing in this module calls it. Errors are logged, not returned —
// a PS that is already gone does not block shutdown of the others.
func (s *Server) Broadcast(ctx context.Context, kind wire.Kind, msg any) {
	body := mustJSON(msg)
	for _, addr := range s.cfg.PSAddrs {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			s.log.Warn("coordinator: dial ps for broadcast", zap.String("ps", addr), zap.Error(err))
			continue
		}
		if err := wire.WriteFrame(conn, kind, body); err != nil {
			s.log.Warn("coordinator: broadcast write", zap.String("ps", addr), zap.Error(err))
		}
		conn.Close()
	}
}

// reclaimLoop periodically moves timed-out in-flight files back to
// pending, via a ticker-driven sweep over the in-flight map.
func (s *Server) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FileTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reclaimExpired()
		}
	}
}

func (s *Server) reclaimExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for file, startedAt := range s.job.inFlight {
		if now.Sub(startedAt) >= s.cfg.FileTimeout {
			delete(s.job.inFlight, file)
			s.job.pending = append(s.job.pending, file)
			s.log.Info("coordinator: reclaimed timed-out file", zap.String("file", file))
		}
	}
}

// Done reports whether the job has served every file in every epoch and
// will now answer every FileRequest with Done=true.
func (s *Server) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.done
}

// EpochLoss returns the running weighted loss and weight accumulated for
// the current epoch, useful for logging/metrics.
func (s *Server) EpochLoss() (loss, weight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.epochLoss, s.job.epochWeight
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("coordinator: marshal %T: %v", v, err))
	}
	return b
}
