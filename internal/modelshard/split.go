package modelshard

import "deepx/internal/model"

// SplitPullRequest splits a worker's combined pull request into N
// per-shard requests. per has length
// shard.N; each entry is cleared and rebuilt in place so callers can reuse
// the same slice across mini-batches.
func SplitPullRequest(shard interface {
	TSRShardId(string) int
	SRMShardId(uint64) int
}, full *model.PullRequest, per []*model.PullRequest) {
	for _, p := range per {
		p.Clear()
		p.IsTrain = full.IsTrain
	}

	for name := range full.TSRSet {
		per[shard.TSRShardId(name)].AddTSR(name)
	}

	for name, ids := range full.SRMMap {
		for id := range ids {
			sid := shard.SRMShardId(id)
			per[sid].AddSRMID(name, id)
			if freq, ok := full.IDFreqMap[id]; ok {
				per[sid].IDFreqMap[id] = freq
			}
		}
	}
}

// MergePullResponses merges N per-shard Pull responses back into a single
// TensorMap a worker installs as its local param view, the symmetric
// inverse of SplitPullRequest.
func MergePullResponses(per []*model.TensorMap) *model.TensorMap {
	out := model.NewTensorMap()
	for _, tm := range per {
		if tm == nil {
			continue
		}
		for _, name := range tm.TSRNames() {
			t, _ := tm.TSR(name)
			out.SetTSR(name, t)
		}
		for _, name := range tm.SRMNames() {
			s, _ := tm.SRM(name)
			if existing, ok := out.SRM(name); ok {
				existing.Merge(s, nil)
			} else {
				out.SetSRM(name, s)
			}
		}
	}
	return out
}

// SplitGrad routes a worker's combined gradient TensorMap into N per-shard
// TensorMaps: a TSR gradient goes whole to the
// shard owning that name; an SRM gradient is split per-row by
// SRMShardId(id).
func SplitGrad(shard interface {
	TSRShardId(string) int
	SRMShardId(uint64) int
}, full *model.TensorMap, per []*model.TensorMap) {
	for i := range per {
		per[i] = model.NewTensorMap()
	}
	for _, name := range full.TSRNames() {
		t, _ := full.TSR(name)
		per[shard.TSRShardId(name)].SetTSR(name, t)
	}
	for _, name := range full.SRMNames() {
		s, _ := full.SRM(name)
		col := s.Col()
		perSRM := make([]*model.SRM, len(per))
		s.Range(func(id uint64, row *model.Row) {
			sid := shard.SRMShardId(id)
			if perSRM[sid] == nil {
				perSRM[sid] = model.NewSRM(col)
			}
			perSRM[sid].SetRow(id, row.Data())
		})
		for i, srm := range perSRM {
			if srm != nil {
				per[i].SetSRM(name, srm)
			}
		}
	}
}

// SplitParam routes a worker's overwritten-param TensorMap into N
// per-shard TensorMaps, symmetric to SplitGrad.
func SplitParam(shard interface {
	TSRShardId(string) int
	SRMShardId(uint64) int
}, full *model.TensorMap, per []*model.TensorMap) {
	SplitGrad(shard, full, per)
}
