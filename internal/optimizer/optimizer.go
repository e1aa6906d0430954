// Package optimizer implements per-parameter update rules (sgd, adagrad)
// applied by ModelShard.Push. Each Optimizer owns its own SRM
// state slices, lazily created the first time a gradient key is seen.
package optimizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"deepx/internal/model"
)

// Optimizer updates a parameter TensorMap in place given a gradient
// TensorMap for the same names. Implementations own whatever auxiliary
// state (momentum, accumulated squared gradient, ...) their rule needs,
// keyed the same way as the parameters they update.
type Optimizer interface {
	// Name identifies the optimizer for persistence.
	Name() string
	// Update applies grad to param in place, lazily allocating any
	// optimizer state the first time a key is seen.
	Update(param *model.TensorMap, grad *model.TensorMap) error
	// EnsureSRMState makes sure this optimizer has an auxiliary SRM state
	// for name with row width col (if it keeps any); no rows are created,
	// they appear lazily in Update. Called by ModelShard.InitModel once per
	// sparse variable.
	EnsureSRMState(name string, col int)
}

// Config is the (name, params...) tuple parsed from --optimizer_config.
type Config struct {
	Name string
	// LearningRate is used by every optimizer in this package.
	LearningRate model.Float
	// Eps is adagrad's numerical-stability epsilon.
	Eps model.Float
}

// ParseConfig parses --optimizer_config's "k=v,k=v" flattened format into a
// Config for the named optimizer, the same flag grammar modelzoo.ParseConfig
// uses for --model_config. name is assigned directly since the optimizer
// name itself comes from the separate --optimizer flag, not this string.
func ParseConfig(name, s string) (Config, error) {
	cfg := Config{Name: name, LearningRate: 0.01, Eps: 1e-8}
	if s == "" {
		return cfg, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return Config{}, errors.Errorf("optimizer: malformed config entry %q", pair)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "optimizer: config key %q", key)
		}
		switch key {
		case "learning_rate", "lr":
			cfg.LearningRate = model.Float(f)
		case "eps":
			cfg.Eps = model.Float(f)
		default:
			return Config{}, errors.Errorf("optimizer: unknown config key %q", key)
		}
	}
	return cfg, nil
}

// New constructs the named optimizer via an explicit switch rather than a
// static-init registry, so the set of supported names is visible in one place.
func New(cfg Config) (Optimizer, error) {
	switch cfg.Name {
	case "sgd":
		return NewSGD(cfg.LearningRate), nil
	case "adagrad":
		eps := cfg.Eps
		if eps == 0 {
			eps = 1e-8
		}
		return NewAdagrad(cfg.LearningRate, eps), nil
	default:
		return nil, errors.Errorf("optimizer: unknown optimizer %q", cfg.Name)
	}
}

// SGD implements plain stochastic gradient descent: param -= lr * grad.
// It holds no auxiliary state.
type SGD struct {
	lr model.Float
}

// NewSGD returns a plain-SGD optimizer with the given learning rate.
func NewSGD(lr model.Float) *SGD { return &SGD{lr: lr} }

// Name implements Optimizer.
func (o *SGD) Name() string { return "sgd" }

// EnsureSRMState implements Optimizer; SGD carries no auxiliary state.
func (o *SGD) EnsureSRMState(string, int) {}

// Update implements Optimizer.
func (o *SGD) Update(param *model.TensorMap, grad *model.TensorMap) error {
	for _, name := range grad.TSRNames() {
		g, _ := grad.TSR(name)
		p, ok := param.TSR(name)
		if !ok {
			return fmt.Errorf("optimizer: gradient for unknown tsr %q", name)
		}
		if err := p.AddInPlace(g, -o.lr); err != nil {
			return errors.Wrapf(err, "sgd: tsr %q", name)
		}
	}
	for _, name := range grad.SRMNames() {
		g, _ := grad.SRM(name)
		p, ok := param.SRM(name)
		if !ok {
			return fmt.Errorf("optimizer: gradient for unknown srm %q", name)
		}
		g.Range(func(id uint64, row *model.Row) {
			prow := p.GetRowNoInit(id)
			pd, gd := prow.Data(), row.Data()
			for i := range gd {
				pd[i] -= o.lr * gd[i]
			}
		})
	}
	return nil
}

// Adagrad accumulates squared gradients per-parameter and scales the
// learning rate by 1/sqrt(accum+eps).
type Adagrad struct {
	lr       model.Float
	eps      model.Float
	tsrState map[string]*model.TSR
	srmState map[string]*model.SRM
}

// NewAdagrad returns an Adagrad optimizer with the given learning rate and
// numerical-stability epsilon.
func NewAdagrad(lr, eps model.Float) *Adagrad {
	return &Adagrad{
		lr:       lr,
		eps:      eps,
		tsrState: make(map[string]*model.TSR),
		srmState: make(map[string]*model.SRM),
	}
}

// Name implements Optimizer.
func (o *Adagrad) Name() string { return "adagrad" }

// EnsureSRMState implements Optimizer.
func (o *Adagrad) EnsureSRMState(name string, col int) {
	if _, ok := o.srmState[name]; !ok {
		o.srmState[name] = model.NewSRM(col)
	}
}

// Update implements Optimizer.
func (o *Adagrad) Update(param *model.TensorMap, grad *model.TensorMap) error {
	for _, name := range grad.TSRNames() {
		g, _ := grad.TSR(name)
		p, ok := param.TSR(name)
		if !ok {
			return fmt.Errorf("optimizer: gradient for unknown tsr %q", name)
		}
		accum, ok := o.tsrState[name]
		if !ok {
			accum = model.NewTSR(p.Shape())
			o.tsrState[name] = accum
		}
		ad, pd, gd := accum.Data(), p.Data(), g.Data()
		for i := range gd {
			ad[i] += gd[i] * gd[i]
			pd[i] -= o.lr * gd[i] / model.Float(math.Sqrt(float64(ad[i])+float64(o.eps)))
		}
	}
	for _, name := range grad.SRMNames() {
		g, _ := grad.SRM(name)
		p, ok := param.SRM(name)
		if !ok {
			return fmt.Errorf("optimizer: gradient for unknown srm %q", name)
		}
		o.EnsureSRMState(name, p.Col())
		state := o.srmState[name]
		g.Range(func(id uint64, row *model.Row) {
			prow := p.GetRowNoInit(id)
			arow := state.GetRowNoInit(id)
			pd, gd, ad := prow.Data(), row.Data(), arow.Data()
			for i := range gd {
				ad[i] += gd[i] * gd[i]
				pd[i] -= o.lr * gd[i] / model.Float(math.Sqrt(float64(ad[i])+float64(o.eps)))
			}
		})
	}
	return nil
}

// State exposes an optimizer's auxiliary SRM slices for persistence.
func (o *Adagrad) State() map[string]*model.SRM { return o.srmState }
