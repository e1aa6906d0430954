package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"deepx/internal/config"
	"deepx/internal/fsx"
	"deepx/internal/modelshard"
	"deepx/internal/modelzoo"
	"deepx/internal/optimizer"
	"deepx/internal/psserver"
	"deepx/internal/stats"
)

func runParamServer(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	sh, err := buildShard(cfg)
	if err != nil {
		return errors.Wrap(err, "ps: init shard")
	}

	mzCfg, err := modelzoo.ParseConfig(cfg.ModelConfig)
	if err != nil {
		return errors.Wrap(err, "ps: parse --model_config")
	}
	schema, err := modelzoo.New(cfg.Model, mzCfg)
	if err != nil {
		return errors.Wrap(err, "ps: build model")
	}

	optCfg, err := optimizer.ParseConfig(cfg.Optimizer, cfg.OptimizerConfig)
	if err != nil {
		return errors.Wrap(err, "ps: parse --optimizer_config")
	}
	opt, err := optimizer.New(optCfg)
	if err != nil {
		return errors.Wrap(err, "ps: build optimizer")
	}

	ms := modelshard.New(sh, cfg.PSID, schema, opt, cfg.Seed)

	outFS, outDir, err := fsx.Open(cfg.OutModel)
	if err != nil {
		return errors.Wrap(err, "ps: resolve --out_model")
	}

	if cfg.InModel != "" {
		inFS, inDir, err := fsx.Open(cfg.InModel)
		if err != nil {
			return errors.Wrap(err, "ps: resolve --in_model")
		}
		if err := ms.LoadModelAny(ctx, inFS, inDir); err != nil {
			return errors.Wrap(err, "ps: load in_model")
		}
		if err := ms.LoadOptimizer(ctx, inFS, inDir, optCfg); err != nil {
			log.Warn("ps: load optimizer state failed, keeping fresh optimizer", zap.Error(err))
		}
	} else {
		ms.InitModel()
	}

	if cfg.WarmupModel != "" {
		warmFS, warmDir, err := fsx.Open(cfg.WarmupModel)
		if err != nil {
			return errors.Wrap(err, "ps: resolve --warmup_model")
		}
		if err := ms.WarmupModel(ctx, warmFS, warmDir); err != nil {
			return errors.Wrap(err, "ps: warmup model")
		}
	}

	if cfg.TSEnable {
		loaded := false
		if cfg.InModel != "" {
			if inFS, inDir, err := fsx.Open(cfg.InModel); err == nil {
				loaded = ms.LoadTSStore(ctx, inFS, inDir, cfg.TSNow, cfg.TSExpireThreshold) == nil
			}
		}
		if !loaded {
			ms.InitTSStore(cfg.TSNow, cfg.TSExpireThreshold)
		}
	}
	if cfg.FreqFilterThreshold > 0 {
		loaded := false
		if cfg.InModel != "" {
			if inFS, inDir, err := fsx.Open(cfg.InModel); err == nil {
				loaded = ms.LoadFreqStore(ctx, inFS, inDir, cfg.FreqFilterThreshold) == nil
			}
		}
		if !loaded {
			ms.InitFreqStore(cfg.FreqFilterThreshold)
		}
	}

	if cfg.PSThread > 1 {
		if err := ms.InitLock(); err != nil {
			return errors.Wrap(err, "ps: init lock")
		}
	}

	st := stats.New("ps")
	pcfg := psserver.Config{
		ListenAddr:        cfg.ListenAddr,
		Threads:           cfg.PSThread,
		OutModel:          outDir,
		OutTextModel:      cfg.OutTextModel,
		OutFeatureKVModel: cfg.OutFeatureKVModel,
		FeatureKVVersion:  cfg.OutFeatureKVProtocolVersion,
	}
	srv := psserver.New(pcfg, ms, outFS, log, st)

	log.Info("ps: listening", zap.String("addr", pcfg.ListenAddr), zap.Int("shard_id", cfg.PSID), zap.Int("shard_n", sh.N))
	return srv.Serve(ctx)
}
