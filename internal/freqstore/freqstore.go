// Package freqstore implements FreqStore: the per-row access-frequency
// index that gates sparse-parameter admission. A github.com/seiflotfy/cuckoofilter
// per parameter name gives Filter a cheap "definitely never seen" fast
// path ahead of the exact id→count map that decides admission.
package freqstore

import (
	"sync"

	cuckoofilter "github.com/seiflotfy/cuckoofilter"

	"deepx/internal/model"
)

const cuckooCapacity = 1 << 20

// FreqStore counts how many times each sparse feature id has been seen and
// filters PullRequests so ids below threshold are dropped from training
// ("Pull": "freq.Filter(req) ... drops ids from req.srm_map
// whose lifetime frequency is still below threshold").
type FreqStore struct {
	mu        sync.Mutex
	threshold uint64
	counts    map[string]map[uint64]uint64
	cuckoo    map[string]*cuckoofilter.Filter
}

// New constructs a FreqStore with the given admission threshold. A
// threshold of 0 disables filtering: every id is always admitted.
func New(threshold uint64) *FreqStore {
	return &FreqStore{
		threshold: threshold,
		counts:    make(map[string]map[uint64]uint64),
		cuckoo:    make(map[string]*cuckoofilter.Filter),
	}
}

func idKey(id uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * i))
	}
	return b[:]
}

func (f *FreqStore) bump(name string, id uint64) uint64 {
	m, ok := f.counts[name]
	if !ok {
		m = make(map[uint64]uint64)
		f.counts[name] = m
		f.cuckoo[name] = cuckoofilter.NewFilter(cuckooCapacity)
	}
	m[id]++
	f.cuckoo[name].InsertUnique(idKey(id))
	return m[id]
}

// Count returns the lifetime frequency recorded for (name, id).
func (f *FreqStore) Count(name string, id uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cf, ok := f.cuckoo[name]; ok && !cf.Lookup(idKey(id)) {
		return 0
	}
	return f.counts[name][id]
}

// Filter drops from req.SRMMap every id whose lifetime frequency,
// including this occurrence, is still strictly below threshold, and bumps
// every id's count. It is a no-op unless req.IsTrain is set.
func (f *FreqStore) Filter(req *model.PullRequest) {
	if !req.IsTrain || f.threshold == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, ids := range req.SRMMap {
		for id := range ids {
			freq := req.IDFreqMap[id]
			if freq == 0 {
				freq = 1
			}
			var c uint64
			for i := uint64(0); i < freq; i++ {
				c = f.bump(name, id)
			}
			if c < f.threshold {
				delete(ids, id)
			}
		}
	}
}

// Remove deletes the (name, id) entry, used when ExpireTSStore filters a
// row out of the frequency index too.
func (f *FreqStore) Remove(name string, id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts[name], id)
	if cf, ok := f.cuckoo[name]; ok {
		cf.Delete(idKey(id))
	}
}

// Range calls fn for every (name, id, count) triple. fn must not mutate f.
func (f *FreqStore) Range(fn func(name string, id uint64, count uint64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, m := range f.counts {
		for id, c := range m {
			fn(name, id, c)
		}
	}
}
