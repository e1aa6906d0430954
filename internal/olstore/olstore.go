// Package olstore implements OLStore: the online-learning delta index
// tracking dirty rows for streaming export. ModelShard.Push marks a row dirty
// whenever a gradient or overwrite touches it; a feature-kv exporter drains
// the dirty set periodically without re-scanning every parameter.
//
// A ModelShard with an active OLStore runs single-threaded: OLStore itself
// stays lock-free internally to keep
// that fast path cheap, and ModelShard.InitLock refuses to install
// per-tensor locks when OLStore is present.
package olstore

// OLStore tracks which (name, id) sparse rows have changed since the last
// drain.
type OLStore struct {
	dirty map[string]map[uint64]struct{}
}

// New constructs an empty OLStore.
func New() *OLStore {
	return &OLStore{dirty: make(map[string]map[uint64]struct{})}
}

// Mark records (name, id) as dirty.
func (o *OLStore) Mark(name string, id uint64) {
	m, ok := o.dirty[name]
	if !ok {
		m = make(map[uint64]struct{})
		o.dirty[name] = m
	}
	m[id] = struct{}{}
}

// Drain returns every dirty (name, id) pair and clears the index, so the
// next Drain only sees rows touched since this call.
func (o *OLStore) Drain() map[string][]uint64 {
	out := make(map[string][]uint64, len(o.dirty))
	for name, m := range o.dirty {
		ids := make([]uint64, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		out[name] = ids
	}
	o.dirty = make(map[string]map[uint64]struct{})
	return out
}

// Len reports the total number of dirty rows across all names.
func (o *OLStore) Len() int {
	n := 0
	for _, m := range o.dirty {
		n += len(m)
	}
	return n
}
