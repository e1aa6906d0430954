package opctx

import (
	"deepx/internal/model"
	"deepx/internal/modelshard"
)

// SchemaContext is the widest OpContext this module can supply without a
// compiled graph: GetPullRequest asks for every TSR a Schema declares plus
// every SRM row the current batch's instance ids touch, across every SRM
// variable, so a CLI binary with only a model_zoo Schema (no graph.bin)
// still exercises the full distributed Pull/Push path end to end.
// Forward/Backward remain no-ops — the per-operator kernels stay out of
// scope — so Predictions and loss are placeholders, not real
// model output. Real deployments replace this with an OpContext backed by
// a compiled graph.
type SchemaContext struct {
	Schema modelshard.Schema

	ids     []uint64
	labels  []model.Float
	weights []model.Float
	param   *model.TensorMap
}

// NewSchemaContext constructs a SchemaContext over schema.
func NewSchemaContext(schema modelshard.Schema) *SchemaContext {
	return &SchemaContext{Schema: schema}
}

// LoadBatch implements OpContext.
func (c *SchemaContext) LoadBatch(ids []uint64, labels, weights []model.Float) error {
	c.ids, c.labels, c.weights = ids, labels, weights
	return nil
}

// GetPullRequest implements OpContext.
func (c *SchemaContext) GetPullRequest(req *model.PullRequest) error {
	req.Clear()
	for _, v := range c.Schema {
		switch v.Kind {
		case modelshard.KindTSR:
			req.AddTSR(v.Name)
		case modelshard.KindSRM:
			for _, id := range c.ids {
				req.AddSRMID(v.Name, id)
			}
		}
	}
	return nil
}

// SetParam implements OpContext.
func (c *SchemaContext) SetParam(param *model.TensorMap) { c.param = param }

// Forward implements OpContext. There is no compiled graph behind this
// context, so it reports zero loss weighted by the batch size — enough to
// keep the Σloss·weight accounting well-defined without claiming a real
// prediction.
func (c *SchemaContext) Forward() (loss, weight float64, err error) {
	return 0, float64(len(c.labels)), nil
}

// Backward implements OpContext, returning an empty gradient: with no
// graph there is nothing to differentiate, so a SchemaContext-driven
// training run exercises Pull/Push plumbing without moving any parameter.
func (c *SchemaContext) Backward() (grad, overwritten *model.TensorMap, err error) {
	return model.NewTensorMap(), model.NewTensorMap(), nil
}

// Predictions implements OpContext, returning one zero value per instance
// in the last loaded batch.
func (c *SchemaContext) Predictions() []model.Float {
	return make([]model.Float, len(c.labels))
}
