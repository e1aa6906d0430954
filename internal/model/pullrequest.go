package model

// PullRequest is a worker's combined request for the parameters one
// mini-batch needs. tsr_set/srm_map/id_freq_map
// are the wire fields the spec names; Go-idiomatic sets are maps to
// struct{}.
type PullRequest struct {
	TSRSet     map[string]struct{}
	SRMMap     map[string]map[uint64]struct{}
	IDFreqMap  map[uint64]uint64
	IsTrain    bool
}

// NewPullRequest returns an empty PullRequest.
func NewPullRequest() *PullRequest {
	return &PullRequest{
		TSRSet:    make(map[string]struct{}),
		SRMMap:    make(map[string]map[uint64]struct{}),
		IDFreqMap: make(map[uint64]uint64),
	}
}

// Clear empties pr in place for buffer reuse across requests on the same
// connection/session.
func (pr *PullRequest) Clear() {
	for k := range pr.TSRSet {
		delete(pr.TSRSet, k)
	}
	for k := range pr.SRMMap {
		delete(pr.SRMMap, k)
	}
	for k := range pr.IDFreqMap {
		delete(pr.IDFreqMap, k)
	}
}

// AddTSR marks name as needed whole.
func (pr *PullRequest) AddTSR(name string) { pr.TSRSet[name] = struct{}{} }

// AddSRMID marks id as needed from the sparse param name.
func (pr *PullRequest) AddSRMID(name string, id uint64) {
	m, ok := pr.SRMMap[name]
	if !ok {
		m = make(map[uint64]struct{})
		pr.SRMMap[name] = m
	}
	m[id] = struct{}{}
}

// SRMIds returns the requested id set for name as a slice.
func (pr *PullRequest) SRMIds(name string) []uint64 {
	m := pr.SRMMap[name]
	out := make([]uint64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
