// Package modelshard implements ModelShard: the single source of truth
// for one shard of a model's parameters, optimizer state, and side
// indices. It is the stateful component that a shardfn.Shard
// configuration, together with a shard id in [0, N), identifies.
//
// ModelShard owns a partition of the key space and is the only mutator
// of its own state: it exposes Pull/Push-shaped operations behind a lock
// that is only installed when the server runs multiple handler threads,
// generalized from a byte-value KV store to typed TSR/SRM parameters with
// optimizer state and admission/expiration side indices.
package modelshard

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"deepx/internal/freqstore"
	"deepx/internal/model"
	"deepx/internal/olstore"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
	"deepx/internal/tsstore"
)

// guardedRNG makes a single *rand.Rand safe to share across concurrent
// GetRow calls when the shard runs with per-tensor locking, while keeping
// a single deterministic sequence so lazy row creation stays reproducible
// for a fixed seed and fixed call order.
type guardedRNG struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (g *guardedRNG) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *guardedRNG) NormFloat64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.NormFloat64()
}

// ModelShard owns one shard's parameters, optimizer state, and side
// indices. It is not safe for concurrent use from multiple goroutines
// unless InitLock has been called.
type ModelShard struct {
	Shard   shardfn.Shard
	ShardID int

	schema Schema
	param  *model.TensorMap
	opt    optimizer.Optimizer
	ts     *tsstore.TSStore
	freq   *freqstore.FreqStore
	ol     *olstore.OLStore
	rng    *guardedRNG

	locked bool
	locks  map[string]*sync.RWMutex
}

// New constructs an unloaded ModelShard for the given shard configuration
// and shard id. Call InitModel or LoadModel next.
func New(shard shardfn.Shard, shardID int, schema Schema, opt optimizer.Optimizer, seed int64) *ModelShard {
	return &ModelShard{
		Shard:   shard,
		ShardID: shardID,
		schema:  schema,
		opt:     opt,
		rng:     &guardedRNG{rnd: rand.New(rand.NewSource(seed))},
	}
}

// InitModel freshly initializes every schema variable that this shard
// owns, following the variable's initializer. A
// dense tensor is owned by the shard that TSRShardId(name) selects; a
// sparse parameter's rows are distributed across shards lazily, so every
// shard gets an empty SRM of the declared width up front.
func (m *ModelShard) InitModel() {
	m.param = model.NewTensorMap()
	for _, v := range m.schema {
		switch v.Kind {
		case KindTSR:
			if m.Shard.TSRShardId(v.Name) != m.ShardID {
				continue
			}
			t := model.NewTSR(v.Shape)
			t.RandInit(m.rng, v.Init)
			m.param.SetTSR(v.Name, t)
		case KindSRM:
			s := model.NewSRM(v.Col)
			s.SetInitializer(v.Init)
			m.param.SetSRM(v.Name, s)
			m.opt.EnsureSRMState(v.Name, v.Col)
		}
	}
}

// InitTSStore installs a fresh TSStore with the given clock and
// expiration threshold.
func (m *ModelShard) InitTSStore(now, expireThreshold int64) { m.ts = tsstore.New(now, expireThreshold) }

// InitFreqStore installs a fresh FreqStore with the given admission
// threshold.
func (m *ModelShard) InitFreqStore(threshold uint64) { m.freq = freqstore.New(threshold) }

// InitOLStore installs a fresh OLStore.
func (m *ModelShard) InitOLStore() { m.ol = olstore.New() }

// HasOLStore reports whether an OLStore is installed. InitLock refuses to
// run when it is.
func (m *ModelShard) HasOLStore() bool { return m.ol != nil }

// InitLock installs a per-tensor lock across param, optimizer state,
// TSStore, and FreqStore, required when the owning server runs more than
// one handler thread. It is an error to
// call this when an OLStore is installed: OLStore mode is single-threaded
// by construction.
func (m *ModelShard) InitLock() error {
	if m.ol != nil {
		return errors.New("modelshard: cannot InitLock with an OLStore installed")
	}
	m.locks = make(map[string]*sync.RWMutex)
	for _, name := range m.param.TSRNames() {
		m.locks[name] = &sync.RWMutex{}
	}
	for _, name := range m.param.SRMNames() {
		m.locks[name] = &sync.RWMutex{}
	}
	m.locked = true
	return nil
}

func (m *ModelShard) lockFor(name string, write bool) func() {
	if !m.locked {
		return func() {}
	}
	l, ok := m.locks[name]
	if !ok {
		return func() {}
	}
	if write {
		l.Lock()
		return l.Unlock
	}
	l.RLock()
	return l.RUnlock
}

// Pull fills out with the parameters req asks for, lazily creating
// missing sparse rows when req.IsTrain.
//
//  1. If a FreqStore exists and req.IsTrain, filter req in place.
//  2. For each name in req.TSRSet, place a view of the local TSR in out.
//  3. For each (name, ids) in req.SRMMap, build an SRM of views, creating
//     missing rows lazily when IsTrain, omitting them otherwise.
func (m *ModelShard) Pull(req *model.PullRequest, out *model.TensorMap) error {
	if m.freq != nil {
		m.freq.Filter(req)
	}

	for name := range req.TSRSet {
		t, ok := m.param.TSR(name)
		if !ok {
			return fmt.Errorf("modelshard: pull for unknown tsr %q", name)
		}
		unlock := m.lockFor(name, false)
		out.SetTSR(name, t.View())
		unlock()
	}

	for name, ids := range req.SRMMap {
		srm, ok := m.param.SRM(name)
		if !ok {
			return fmt.Errorf("modelshard: pull for unknown srm %q", name)
		}
		respSRM := model.NewSRM(srm.Col())
		unlock := m.lockFor(name, req.IsTrain)
		for id := range ids {
			if req.IsTrain {
				row := srm.GetRow(m.rng, id)
				respSRM.SetRow(id, row.Data())
			} else if row, ok := srm.Lookup(id); ok {
				respSRM.SetRow(id, row.Data())
			}
			// !IsTrain and unknown id: silently omitted.
		}
		unlock()
		out.SetSRM(name, respSRM)
	}
	return nil
}

// Push applies a gradient and/or a set of overwritten parameters.
// now stamps TSStore bumps.
func (m *ModelShard) Push(grad *model.TensorMap, overwritten *model.TensorMap, now int64) error {
	if grad != nil && grad.Len() > 0 {
		for _, name := range grad.SRMNames() {
			g, _ := grad.SRM(name)
			unlock := m.lockFor(name, true)
			g.Range(func(id uint64, _ *model.Row) {
				if m.ol != nil {
					m.ol.Mark(name, id)
				}
				if m.freq != nil {
					m.freq.Count(name, id) // read-only lookup; counts change only in Filter
				}
				if m.ts != nil {
					m.ts.Bump(name, id, now)
				}
			})
			unlock()
		}
		if err := m.opt.Update(m.param, grad); err != nil {
			return errors.Wrap(err, "modelshard: optimizer update")
		}
	}

	if overwritten != nil && overwritten.Len() > 0 {
		for _, name := range overwritten.TSRNames() {
			src, _ := overwritten.TSR(name)
			dst, ok := m.param.TSR(name)
			if !ok {
				return fmt.Errorf("modelshard: overwrite for unknown tsr %q", name)
			}
			unlock := m.lockFor(name, true)
			err := dst.CopyFrom(src)
			unlock()
			if err != nil {
				return errors.Wrapf(err, "modelshard: overwrite tsr %q", name)
			}
		}
		for _, name := range overwritten.SRMNames() {
			src, _ := overwritten.SRM(name)
			dst, ok := m.param.SRM(name)
			if !ok {
				return fmt.Errorf("modelshard: overwrite for unknown srm %q", name)
			}
			unlock := m.lockFor(name, true)
			src.Range(func(id uint64, row *model.Row) {
				if m.ol != nil {
					m.ol.Mark(name, id)
				}
				dst.SetRow(id, append([]model.Float(nil), row.Data()...))
			})
			unlock()
		}
	}
	return nil
}

// ExpireTSStore removes every row whose last update predates
// now - expire_threshold from param, optimizer state, and FreqStore.
func (m *ModelShard) ExpireTSStore(now int64) {
	if m.ts == nil {
		return
	}
	expired := m.ts.Expired(now)
	for name, ids := range expired {
		srm, ok := m.param.SRM(name)
		if !ok {
			continue
		}
		for _, id := range ids {
			srm.Delete(id)
			m.ts.Remove(name, id)
			if m.freq != nil {
				m.freq.Remove(name, id)
			}
			if ada, ok := m.opt.(interface{ State() map[string]*model.SRM }); ok {
				if state, ok := ada.State()[name]; ok {
					state.Delete(id)
				}
			}
		}
	}
}

// Param exposes the owned parameter TensorMap (used by Split helpers,
// persistence, and tests). Callers must not retain views past a Pull on
// the same shard.
func (m *ModelShard) Param() *model.TensorMap { return m.param }

// RemoveZerosParam drops every all-zero SRM row from every sparse
// parameter, matching RemoveZerosSRM, typically run before
// Save.
func (m *ModelShard) RemoveZerosParam() {
	for _, name := range m.param.SRMNames() {
		srm, _ := m.param.SRM(name)
		srm.RemoveZeros()
	}
}
