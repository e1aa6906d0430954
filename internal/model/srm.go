package model

import "sync"

// Row is a single SRM row: an owned or view slice of length col().
type Row struct {
	data   []Float
	isView bool
}

// Data returns the row's backing slice.
func (r *Row) Data() []Float { return r.data }

// IsView reports whether the row aliases external storage.
func (r *Row) IsView() bool { return r.isView }

// SRM is a sparse row matrix: logical shape (∞, K), physically a map from
// feature id to an owned K-length row, with lazy row creation on Pull.
// A single mutex guards the map; ModelShard installs a
// finer per-tensor lock only when config.thread > 1.
type SRM struct {
	rows map[uint64]*Row
	init Initializer
	col  int
	mu   sync.RWMutex
}

// NewSRM constructs an empty SRM with the given row width.
func NewSRM(col int) *SRM {
	return &SRM{rows: make(map[uint64]*Row), col: col}
}

// SetCol fixes the row width. It is only valid before any row exists.
func (s *SRM) SetCol(col int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.col = col
}

// Col returns the fixed row width K.
func (s *SRM) Col() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col
}

// SetInitializer sets the rule used by GetRow to fill newly-created rows.
func (s *SRM) SetInitializer(init Initializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init = init
}

// Size returns the number of live rows.
func (s *SRM) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// GetRowNoInit returns the row for id, inserting a zero-valued row of
// length col if absent. Never runs the initializer or draws from rng.
func (s *SRM) GetRowNoInit(id uint64) *Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		r = &Row{data: make([]Float, s.col)}
		s.rows[id] = r
	}
	return r
}

// GetRow returns the existing row for id, or lazily inserts one initialized
// per s.init using rng. This is the only SRM path that runs the
// initializer on a new row.
func (s *SRM) GetRow(rng RNG, id uint64) *Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if ok {
		return r
	}
	r = &Row{data: make([]Float, s.col)}
	s.init.Fill(rng, r.data, s.col)
	s.rows[id] = r
	return r
}

// Lookup returns the row for id without creating one.
func (s *SRM) Lookup(id uint64) (*Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	return r, ok
}

// SetRow installs a row directly, overwriting any existing one (used by
// Push overwritten-param application and by Merge).
func (s *SRM) SetRow(id uint64, data []Float) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = &Row{data: data}
}

// Delete removes id's row if present.
func (s *SRM) Delete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
}

// Range calls fn for every live row. fn must not mutate the SRM.
func (s *SRM) Range(fn func(id uint64, r *Row)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, r := range s.rows {
		fn(id, r)
	}
}

// Ids returns a snapshot of all live row ids.
func (s *SRM) Ids() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.rows))
	for id := range s.rows {
		out = append(out, id)
	}
	return out
}

// Merge absorbs rows from other into s. When shardFilter is non-nil, only
// rows for which shardFilter(id) is true are absorbed — the re-sharding path used
// by LoadModel when the saved Shard disagrees with the runtime Shard.
func (s *SRM) Merge(other *SRM, shardFilter func(id uint64) bool) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range other.rows {
		if shardFilter != nil && !shardFilter(id) {
			continue
		}
		s.rows[id] = r
	}
}

// RemoveIf deletes every row for which pred returns true. Used for TS/Freq
// expiration.
func (s *SRM) RemoveIf(pred func(id uint64, r *Row) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if pred(id, r) {
			delete(s.rows, id)
		}
	}
}

// RemoveZeros deletes every row whose L1 norm is exactly 0, matching
// RemoveZerosSRM, typically run before Save.
func (s *SRM) RemoveZeros() {
	s.RemoveIf(func(_ uint64, r *Row) bool {
		for _, v := range r.data {
			if v != 0 {
				return false
			}
		}
		return true
	})
}
