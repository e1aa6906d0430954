package main

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"deepx/internal/config"
	"deepx/internal/coordinator"
	"deepx/internal/fsx"
)

// listFiles resolves cfg.In into the training job's file list: a single
// entry if it names a file, or every entry under it (joined back to full
// paths) if it names a directory ("in (file or dir, required)").
func listFiles(ctx context.Context, in string) ([]string, error) {
	fs, rel, err := fsx.Open(in)
	if err != nil {
		return nil, errors.Wrap(err, "resolve --in")
	}
	if ok, err := fs.Exists(ctx, rel); err != nil {
		return nil, errors.Wrap(err, "stat --in")
	} else if !ok {
		return nil, errors.Errorf("--in %q does not exist", in)
	}
	entries, err := fs.List(ctx, rel)
	if err != nil {
		// Not a directory: treat --in as a single file.
		return []string{in}, nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		// Plain concatenation keeps a scheme's "//" intact, which
		// filepath.Join would collapse.
		files = append(files, strings.TrimSuffix(in, "/")+"/"+e)
	}
	return files, nil
}

func runCoordinator(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	files, err := listFiles(ctx, cfg.In)
	if err != nil {
		return errors.Wrap(err, "coordinator: list input files")
	}

	ccfg := coordinator.Config{
		ListenAddr:  cfg.ListenAddr,
		PSAddrs:     cfg.PSAddrs,
		Epochs:      cfg.Epoch,
		Files:       files,
		Reverse:     cfg.ReverseIn,
		Shuffle:     cfg.ShuffleIn,
		FileTimeout: time.Duration(cfg.FileTimeoutSeconds) * time.Second,
		DumpModel:   cfg.DumpModel && cfg.SubCommand == "train",
		Seed:        cfg.Seed,
	}
	srv := coordinator.New(ccfg, log)
	log.Info("coordinator: listening", zap.String("addr", ccfg.ListenAddr), zap.Int("files", len(files)))
	return srv.Serve(ctx)
}
