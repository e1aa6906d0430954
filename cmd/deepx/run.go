package main

import (
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepx/internal/config"
)

// runCmd validates and resolves cfg, builds this process's logger, and
// dispatches to the role implementation. Config errors abort before any
// network startup.
func runCmd(cmd *cobra.Command, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Resolve(cfg); err != nil {
		return err
	}

	log, err := buildLogger(cfg.Verbose)
	if err != nil {
		return errors.Wrap(err, "deepx: build logger")
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Role {
	case "cs":
		err = runCoordinator(ctx, *cfg, log)
	case "ps":
		err = runParamServer(ctx, *cfg, log)
	case "wk":
		err = runWorker(ctx, *cfg, log)
	default:
		err = errors.Errorf("deepx: unknown role %q", cfg.Role)
	}
	if err != nil {
		log.Error("deepx: fatal", zap.Error(err))
	}
	return err
}
