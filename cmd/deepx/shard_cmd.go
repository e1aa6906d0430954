package main

import (
	"deepx/internal/config"
	"deepx/internal/shardfn"
)

// buildShard derives the job's Shard from cfg.PSAddrs the same way on
// every role (ps, wk) so PullRequest/gradient splitting routes to the
// same shard index everywhere.
func buildShard(cfg config.Config) (shardfn.Shard, error) {
	mode := shardfn.ModeHash
	if len(cfg.PSAddrs) <= 1 {
		mode = shardfn.ModeNone
	}
	return shardfn.Init(mode, len(cfg.PSAddrs), shardfn.FuncXXHash)
}
