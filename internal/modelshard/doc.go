// Package modelshard implements ModelShard, the single source of truth
// for one shard of a model's dense and sparse parameters.
//
// A ModelShard owns:
//
//	param  TensorMap     current weights (TSR dense tensors, SRM sparse rows)
//	opt    optimizer.Optimizer  per-parameter update rule and its own state
//	ts     tsstore.TSStore      per-row last-update timestamps, for expiry
//	freq   freqstore.FreqStore  per-row admission filter, for cold-id rejection
//	ol     olstore.OLStore      per-row dirty tracker, for streaming export
//
// Every other component (the parameter server RPC handlers, the
// in-process sharded trainer, the model-save path) operates on a
// ModelShard through Pull/Push/Save/Load and never reaches into its
// internals directly.
//
//	            Pull(req) -> TensorMap (views)
//	  worker  ------------------------------->  ModelShard
//	            Push(grad, overwritten)
//	  worker  <-------------------------------
//
// Split/merge helpers (SplitPullRequest, SplitGrad, SplitParam,
// MergePullResponses) let a caller that owns N shards fan a single
// logical request out across them and fan the N responses back in,
// without ModelShard itself knowing about its siblings.
package modelshard
