// Command deepx is the single launcher binary for every role in a deepx
// job: Coordinator Server (cs), Param Server (ps), and Worker (wk), each
// reached through the "train" and "predict" sub-commands.
// Config construction happens once here and is threaded down to the role
// implementations in coordinator_cmd.go, paramserver_cmd.go, and
// worker_cmd.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deepx/internal/config"
)

var cfg config.Config

func main() {
	root := &cobra.Command{
		Use:           "deepx",
		Short:         "distributed sparse-feature model trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Role, "role", "", "process role: cs, ps, or wk")
	root.PersistentFlags().StringVar(&cfg.CSAddr, "cs_addr", "", "coordinator listen/dial address (host:port)")
	root.PersistentFlags().StringSliceVar(&cfg.PSAddrs, "ps_addrs", nil, "comma-separated param server addresses")
	root.PersistentFlags().IntVar(&cfg.PSID, "ps_id", 0, "this process's index into ps_addrs (role=ps)")
	root.PersistentFlags().IntVar(&cfg.PSThread, "ps_thread", 1, "param server worker thread count")
	root.PersistentFlags().StringVar(&cfg.InstanceReader, "instance_reader", "libsvm", "instance reader name")
	root.PersistentFlags().StringVar(&cfg.InstanceReaderConfig, "instance_reader_config", "", "instance reader config string")
	root.PersistentFlags().StringVar(&cfg.Model, "model", "", "model zoo name (lr, fm, wnd, deep_fm, dcn, xdeep_fm, auto_int, dtn)")
	root.PersistentFlags().StringVar(&cfg.ModelConfig, "model_config", "", "model config string (k=v,k=v)")
	root.PersistentFlags().StringVar(&cfg.Optimizer, "optimizer", "sgd", "optimizer name (sgd, adagrad)")
	root.PersistentFlags().StringVar(&cfg.OptimizerConfig, "optimizer_config", "", "optimizer config string (k=v,k=v)")
	root.PersistentFlags().IntVar(&cfg.Epoch, "epoch", 1, "epoch count (train only)")
	root.PersistentFlags().IntVar(&cfg.Batch, "batch", 32, "mini-batch size")
	root.PersistentFlags().StringVar(&cfg.In, "in", "", "input file or directory")
	root.PersistentFlags().BoolVar(&cfg.ReverseIn, "reverse_in", false, "reverse the input file order")
	root.PersistentFlags().BoolVar(&cfg.ShuffleIn, "shuffle_in", false, "shuffle the input file order each epoch")
	root.PersistentFlags().StringVar(&cfg.InModel, "in_model", "", "model directory to load before serving (role=ps)")
	root.PersistentFlags().StringVar(&cfg.WarmupModel, "warmup_model", "", "model directory to warm up from (role=ps)")
	root.PersistentFlags().StringVar(&cfg.OutModel, "out_model", "", "model directory to save to (role=ps, train)")
	root.PersistentFlags().BoolVar(&cfg.OutTextModel, "out_text_model", false, "also save a human-readable text model")
	root.PersistentFlags().BoolVar(&cfg.OutFeatureKVModel, "out_feature_kv_model", false, "also save a feature-kv export")
	root.PersistentFlags().IntVar(&cfg.OutFeatureKVProtocolVersion, "out_feature_kv_protocol_version", 0, "feature-kv export protocol version")
	root.PersistentFlags().StringVar(&cfg.OutPredict, "out_predict", "", "prediction output path (predict only)")
	root.PersistentFlags().BoolVar(&cfg.OutModelRemoveZeros, "out_model_remove_zeros", false, "accepted but not read by any role; saves keep all-zero sparse rows")
	root.PersistentFlags().IntVar(&cfg.Verbose, "verbose", 0, "log verbosity: 0=warn, 1=info, >=2=debug")
	root.PersistentFlags().Int64Var(&cfg.Seed, "seed", 0, "RNG seed")
	root.PersistentFlags().BoolVar(&cfg.TSEnable, "ts_enable", false, "track per-row update timestamps (role=ps, saved as ts_store.bin); no role runs an expiration pass")
	root.PersistentFlags().Int64Var(&cfg.TSNow, "ts_now", 0, "logical clock value for ts_enable")
	root.PersistentFlags().Int64Var(&cfg.TSExpireThreshold, "ts_expire_threshold", 0, "row expiration threshold (ts_enable)")
	root.PersistentFlags().Uint64Var(&cfg.FreqFilterThreshold, "freq_filter_threshold", 0, "minimum lifetime frequency for Pull admission, 0 disables")
	root.PersistentFlags().BoolVar(&cfg.DumpModel, "dump_model", false, "coordinator triggers ModelSaveRequest at epoch boundaries")
	root.PersistentFlags().IntVar(&cfg.FileTimeoutSeconds, "file_timeout_seconds", 0, "reclaim an in-flight file after this many idle seconds, 0 disables")

	root.AddCommand(
		newSubCommand("train"),
		newSubCommand("predict"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "deepx: "+err.Error())
		os.Exit(1)
	}
}

func newSubCommand(sub string) *cobra.Command {
	return &cobra.Command{
		Use:   sub,
		Short: sub + " run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SubCommand = sub
			return runCmd(cmd, &cfg)
		},
	}
}

// buildLogger constructs the process's one *zap.Logger, its level chosen
// from --verbose: 0=warn, 1=info, >=2=debug.
func buildLogger(verbose int) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	switch {
	case verbose >= 2:
		level = zapcore.DebugLevel
	case verbose == 1:
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	return zcfg.Build()
}
