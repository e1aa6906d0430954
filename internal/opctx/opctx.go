// Package opctx defines OpContext: the narrow boundary between the
// distributed training/serving machinery in this module and the graph's
// per-operator forward/backward kernels, which are out of scope here. The
// interface shape is grounded on example/rank/trainer_context.h's
// op_context_ field and its GetPullRequest/Forward/Backward call sequence
// in TrainBatch/PredictBatch.
//
// Nothing in this package compiles a graph or evaluates an operator; a real
// deployment supplies its own OpContext implementation built from a
// compiled graph blob (graph.bin). This package only fixes the contract the
// rest of the module programs against, plus a no-op Stub used by tests.
package opctx

import "deepx/internal/model"

// OpContext drives one mini-batch's forward/backward pass against a local
// view of the model's parameters. Implementations are not required to be
// safe for concurrent use; TrainerContext serializes calls per batch.
type OpContext interface {
	// LoadBatch binds the instances TrainerContext just read from its
	// instance reader as the data the next GetPullRequest/Forward/Backward
	// cycle operates on. ids is
	// every feature id touched by the batch, flattened across instances;
	// labels/weights align by instance index with the reader's Batch.
	LoadBatch(ids []uint64, labels, weights []model.Float) error

	// GetPullRequest fills req with the TSR/SRM names and ids the next
	// batch's instances will touch, given whatever instance data the
	// context holds internally ("op_context.GetPullRequest(&pr)").
	GetPullRequest(req *model.PullRequest) error

	// SetParam installs the TensorMap Pull returned as the batch's working
	// parameter view ("local_model.SetParam(&params)"). Views
	// inside param are only valid until the next Pull on the same
	// connection.
	SetParam(param *model.TensorMap)

	// Forward runs the compiled graph's forward targets and returns the
	// batch's loss and its weight (typically the batch size), used for
	// both training and prediction target 0/1.
	Forward() (loss, weight float64, err error)

	// Backward runs the compiled graph's backward targets and returns the
	// resulting gradient and any directly overwritten parameters, ready
	// for SplitGrad/SplitParam. Only called when training.
	Backward() (grad, overwritten *model.TensorMap, err error)

	// Predictions returns the per-instance probabilities Forward computed,
	// read by the worker after Forward on predict runs.
	Predictions() []model.Float
}

// Stub is a no-op OpContext: Forward/Backward touch nothing and return a
// fixed loss. It exists so the worker/trainer loop and its tests can run
// end-to-end without a real graph, exercising the Pull/Push/split wiring
// this module owns.
type Stub struct {
	// TSRNames/SRMIds describe the pull request Stub builds on every
	// GetPullRequest call, letting tests exercise a fixed access pattern.
	TSRNames []string
	SRMIds   map[string][]uint64

	Loss, Weight model.Float

	param *model.TensorMap
	ids   []uint64
}

// LoadBatch implements OpContext, recording ids for the fixed pull pattern
// Stub already exposes via TSRNames/SRMIds (Stub ignores labels/weights; it
// never actually trains anything).
func (s *Stub) LoadBatch(ids []uint64, labels, weights []model.Float) error {
	s.ids = ids
	return nil
}

// GetPullRequest implements OpContext.
func (s *Stub) GetPullRequest(req *model.PullRequest) error {
	req.Clear()
	for _, name := range s.TSRNames {
		req.AddTSR(name)
	}
	for name, ids := range s.SRMIds {
		for _, id := range ids {
			req.AddSRMID(name, id)
		}
	}
	return nil
}

// SetParam implements OpContext.
func (s *Stub) SetParam(param *model.TensorMap) { s.param = param }

// Forward implements OpContext, returning the configured fixed loss.
func (s *Stub) Forward() (loss, weight float64, err error) {
	return float64(s.Loss), float64(s.Weight), nil
}

// Backward implements OpContext, returning an empty gradient (Stub never
// actually trains anything).
func (s *Stub) Backward() (grad, overwritten *model.TensorMap, err error) {
	return model.NewTensorMap(), model.NewTensorMap(), nil
}

// Predictions implements OpContext, returning no predictions.
func (s *Stub) Predictions() []model.Float { return nil }
