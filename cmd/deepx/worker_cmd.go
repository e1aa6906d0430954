package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"deepx/internal/config"
	"deepx/internal/fsx"
	"deepx/internal/instreader"
	"deepx/internal/model"
	"deepx/internal/modelzoo"
	"deepx/internal/opctx"
	"deepx/internal/stats"
	"deepx/internal/worker"
)

// openInstanceReader dispatches on cfg.InstanceReader, the one registered
// reader implementation this module ships.
func openInstanceReader(readerName string) worker.OpenFile {
	return func(ctx context.Context, path string) (instreader.Reader, io.Closer, error) {
		fs, rel, err := fsx.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "worker: resolve %s", path)
		}
		rc, err := fs.Open(ctx, rel)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "worker: open %s", path)
		}
		switch readerName {
		case "libsvm", "":
			return instreader.NewLibSVM(rc), rc, nil
		default:
			rc.Close()
			return nil, nil, errors.Errorf("worker: unknown instance_reader %q", readerName)
		}
	}
}

func runWorker(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	sh, err := buildShard(cfg)
	if err != nil {
		return errors.Wrap(err, "worker: init shard")
	}

	mzCfg, err := modelzoo.ParseConfig(cfg.ModelConfig)
	if err != nil {
		return errors.Wrap(err, "worker: parse --model_config")
	}
	schema, err := modelzoo.New(cfg.Model, mzCfg)
	if err != nil {
		return errors.Wrap(err, "worker: build model")
	}
	oc := opctx.NewSchemaContext(schema)

	hostname, _ := os.Hostname()
	wcfg := worker.Config{
		WorkerID:    fmt.Sprintf("%s.%d", hostname, os.Getpid()),
		CSAddr:      cfg.CSAddr,
		PSAddrs:     cfg.PSAddrs,
		Batch:       cfg.Batch,
		IsTrain:     cfg.SubCommand == "train",
		FreqEnabled: cfg.FreqFilterThreshold > 0,
	}

	st := stats.New("wk")
	d := worker.NewDist(wcfg, sh, oc, openInstanceReader(cfg.InstanceReader), log, st)

	if cfg.SubCommand == "predict" && cfg.OutPredict != "" {
		outFS, outPath, err := fsx.Open(cfg.OutPredict)
		if err != nil {
			return errors.Wrap(err, "worker: resolve --out_predict")
		}
		w, err := outFS.Create(ctx, outPath)
		if err != nil {
			return errors.Wrap(err, "worker: create --out_predict")
		}
		defer w.Close()
		d.OnPredictions = func(file string, preds []model.Float) error {
			return dumpPredictions(w, file, preds)
		}
	}

	if err := d.Connect(ctx); err != nil {
		return errors.Wrap(err, "worker: connect")
	}
	defer d.Close()

	log.Info("worker: starting", zap.String("worker_id", wcfg.WorkerID), zap.Bool("is_train", wcfg.IsTrain))
	return d.Run(ctx)
}

// dumpPredictions writes one "file\tvalue" line per prediction.
func dumpPredictions(w io.Writer, file string, preds []model.Float) error {
	for _, p := range preds {
		if _, err := fmt.Fprintf(w, "%s\t%g\n", file, p); err != nil {
			return err
		}
	}
	return nil
}
