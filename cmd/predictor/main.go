// Command predictor is the supplemented single-process online-inference
// server: it loads a saved model directory in non-distributed mode and
// answers PredictRequest frames over the same length-prefixed wire
// protocol the coordinator and param servers use. It never calls Push or
// any Save* — an inference-only process never persists.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deepx/internal/fsx"
	"deepx/internal/model"
	"deepx/internal/modelshard"
	"deepx/internal/modelzoo"
	"deepx/internal/opctx"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
	"deepx/internal/wire"
	"deepx/internal/worker"
)

type options struct {
	listenAddr  string
	model       string
	modelConfig string
	inModel     string
	verbose     int
}

func main() {
	var o options
	cmd := &cobra.Command{
		Use:           "predictor",
		Short:         "single-process online inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.listenAddr, "listen_addr", ":9200", "predictor listen address")
	cmd.Flags().StringVar(&o.model, "model", "", "model zoo name the in_model directory was trained with")
	cmd.Flags().StringVar(&o.modelConfig, "model_config", "", "model config string (k=v,k=v)")
	cmd.Flags().StringVar(&o.inModel, "in_model", "", "model directory to load")
	cmd.Flags().IntVar(&o.verbose, "verbose", 0, "log verbosity: 0=warn, 1=info, >=2=debug")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("in_model")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "predictor: "+err.Error())
		os.Exit(1)
	}
}

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

func run(ctx context.Context, o options) error {
	log, err := buildLogger(o.verbose)
	if err != nil {
		return errors.Wrap(err, "predictor: build logger")
	}
	defer log.Sync()

	mzCfg, err := modelzoo.ParseConfig(o.modelConfig)
	if err != nil {
		return errors.Wrap(err, "predictor: parse --model_config")
	}
	schema, err := modelzoo.New(o.model, mzCfg)
	if err != nil {
		return errors.Wrap(err, "predictor: build model")
	}

	// A predictor never trains, so its optimizer is never invoked; sgd with
	// a zero learning rate only fills modelshard.New's optimizer argument
	// without pretending there is a real update rule in play.
	opt, err := optimizer.New(optimizer.Config{Name: "sgd", LearningRate: 0})
	if err != nil {
		return errors.Wrap(err, "predictor: build optimizer")
	}
	sh, err := shardfn.Init(shardfn.ModeNone, 1, shardfn.FuncXXHash)
	if err != nil {
		return errors.Wrap(err, "predictor: init shard")
	}
	ms := modelshard.New(sh, 0, schema, opt, 0)

	fs, dir, err := fsx.Open(o.inModel)
	if err != nil {
		return errors.Wrap(err, "predictor: resolve --in_model")
	}
	if err := ms.LoadModelAny(ctx, fs, dir); err != nil {
		return errors.Wrap(err, "predictor: load model")
	}

	oc := opctx.NewSchemaContext(schema)
	ns := worker.NewNonShard(ms, oc)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", o.listenAddr)
	if err != nil {
		return errors.Wrap(err, "predictor: listen")
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("predictor: listening", zap.String("addr", o.listenAddr), zap.String("model", o.model))
	srv := &server{ns: ns, log: log}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "predictor: accept")
		}
		go srv.handleConn(conn)
	}
}

type server struct {
	ns  *worker.NonShard
	log *zap.Logger
}

func (s *server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		kind, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if kind != wire.KindPredictRequest {
			s.log.Warn("predictor: unexpected frame kind", zap.Uint8("kind", uint8(kind)))
			return
		}
		resp := s.predict(payload)
		body, err := json.Marshal(resp)
		if err != nil {
			s.log.Error("predictor: marshal response", zap.Error(err))
			return
		}
		if err := wire.WriteFrame(conn, wire.KindPredictResponse, body); err != nil {
			return
		}
	}
}

func (s *server) predict(payload []byte) wire.PredictResponse {
	var req wire.PredictRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return wire.PredictResponse{Error: err.Error()}
	}
	weight := model.Float(req.Weight)
	if weight == 0 {
		weight = 1
	}
	preds, err := s.ns.PredictBatch(req.IDs, []model.Float{0}, []model.Float{weight})
	if err != nil {
		return wire.PredictResponse{Error: err.Error()}
	}
	if len(preds) == 0 {
		return wire.PredictResponse{Error: "predictor: empty prediction"}
	}
	return wire.PredictResponse{Score: float64(preds[0])}
}
