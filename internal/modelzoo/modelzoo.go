// Package modelzoo is the explicit registry of named model constructors
//, grounded on
// example/rank/model_zoo_impl.h's ModelZoo/ModelZooImpl class hierarchy and
// its MODEL_ZOO_REGISTER macro. Each constructor turns a Config into a
// modelshard.Schema — the variable declarations ModelShard.InitModel needs
// — without reimplementing the forward/backward graph kernels those
// variables feed, which are out of scope.
package modelzoo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"deepx/internal/model"
	"deepx/internal/modelshard"
)

// Config is the flattened (k, v) configuration a model constructor reads,
// the Go counterpart of ModelZooImpl::InitConfigKV's key/value loop.
type Config struct {
	// Dim is the dense/no-group fallback feature space size (spec uses this
	// only when no group config is present; this rewrite always operates in
	// group mode, so Dim only bounds GetX()-style plain lookups kept for
	// constructors that still declare one).
	Dim int
	// K is the FM/embedding interaction width ("k" in lr.cc/fm.cc).
	K int
	// DeepDims is the StackedFullyConnect layer width list ("deep_dims").
	DeepDims []int
	// CrossLayers is DCN's CrossNet depth ("cross").
	CrossLayers int
	// CINDims is xDeepFM's CIN layer width list ("cin_dims").
	CINDims []int
	// AttnWidth, AttnHeads, AttnLayers are AutoInt's MHSA hyperparameters
	// ("att_t", "att_h", "att_s").
	AttnWidth, AttnHeads, AttnLayers int
	// UserDeepDims, ItemDeepDims are DTN's two-tower FC widths.
	UserDeepDims, ItemDeepDims []int
}

// DefaultConfig mirrors the C++ constructors' field initializers.
func DefaultConfig() Config {
	return Config{
		Dim:          1000000,
		K:            8,
		DeepDims:     []int{64, 32, 1},
		CrossLayers:  3,
		CINDims:      []int{32, 32, 32},
		AttnWidth:    8,
		AttnHeads:    2,
		AttnLayers:   2,
		UserDeepDims: []int{64},
		ItemDeepDims: []int{64},
	}
}

// ParseConfig parses --model_config's "k1=v1,k2=v2a:v2b:v2c" flattened
// key/value format into a Config, starting from DefaultConfig and
// overriding only the keys present — the Go equivalent of
// ModelZooImpl::InitConfigKV's per-key assignment loop, adapted to a
// single comma/colon delimited flag value since this rewrite has no
// separate flag-file parser.
// An empty s returns DefaultConfig unchanged.
func ParseConfig(s string) (Config, error) {
	cfg := DefaultConfig()
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
			return Config{}, errors.Errorf("modelzoo: malformed config entry %q", pair)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		var err error
		switch key {
		case "dim":
			cfg.Dim, err = strconv.Atoi(val)
		case "k":
			cfg.K, err = strconv.Atoi(val)
		case "deep_dims":
			cfg.DeepDims, err = parseIntList(val)
		case "cross":
			cfg.CrossLayers, err = strconv.Atoi(val)
		case "cin_dims":
			cfg.CINDims, err = parseIntList(val)
		case "att_t":
			cfg.AttnWidth, err = strconv.Atoi(val)
		case "att_h":
			cfg.AttnHeads, err = strconv.Atoi(val)
		case "att_s":
			cfg.AttnLayers, err = strconv.Atoi(val)
		case "user_deep_dims":
			cfg.UserDeepDims, err = parseIntList(val)
		case "item_deep_dims":
			cfg.ItemDeepDims, err = parseIntList(val)
		default:
			return Config{}, errors.Errorf("modelzoo: unknown config key %q", key)
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "modelzoo: config key %q", key)
		}
	}
	return cfg, nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ":")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Constructor builds a Schema from a Config.
type Constructor func(cfg Config) (modelshard.Schema, error)

var registry = map[string]Constructor{
	"lr":       buildLR,
	"fm":       buildFM,
	"wnd":      buildWND,
	"deep_fm":  buildDeepFM,
	"deepfm":   buildDeepFM,
	"dcn":      buildDCN,
	"xdeep_fm": buildXDeepFM,
	"xdeepfm":  buildXDeepFM,
	"auto_int": buildAutoInt,
	"autoint":  buildAutoInt,
	"dtn":      buildDTN,
}

// New builds the named model's Schema, the Go equivalent of NewModelZoo.
func New(name string, cfg Config) (modelshard.Schema, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("modelzoo: unknown model %q", name)
	}
	return ctor(cfg)
}

// Names lists every registered model name, the Go equivalent of
// MODEL_ZOO_NAMES().
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

func zeros() model.Initializer { return model.Initializer{Kind: model.InitZeros} }

func xavier() model.Initializer {
	return model.Initializer{Kind: model.InitXavier, P1: 1}
}

// stackedFC appends one TSR (weight, bias) pair per layer in dims, mirroring
// StackedFullyConnect's per-layer Wi/bi declarations. in is the input
// width; it returns the final layer's output width.
func stackedFC(schema modelshard.Schema, prefix string, in int, dims []int) (modelshard.Schema, int) {
	for i, out := range dims {
		schema = append(schema,
			modelshard.VarSpec{Name: fmt.Sprintf("%s_W%d", prefix, i), Kind: modelshard.KindTSR, Shape: model.Shape{in, out}, Init: xavier()},
			modelshard.VarSpec{Name: fmt.Sprintf("%s_b%d", prefix, i), Kind: modelshard.KindTSR, Shape: model.Shape{out}, Init: zeros()},
		)
		in = out
	}
	return schema, in
}

func buildLR(cfg Config) (modelshard.Schema, error) {
	return modelshard.Schema{
		{Name: "Wlin", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
	}, nil
}

func buildFM(cfg Config) (modelshard.Schema, error) {
	if cfg.K <= 1 {
		return nil, errors.New("modelzoo: fm requires k > 1")
	}
	return modelshard.Schema{
		{Name: "W", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
		{Name: "V", Kind: modelshard.KindSRM, Col: cfg.K, Init: xavier()},
	}, nil
}

func buildWND(cfg Config) (modelshard.Schema, error) {
	if len(cfg.DeepDims) == 0 {
		return nil, errors.New("modelzoo: wnd requires deep_dims")
	}
	schema := modelshard.Schema{
		{Name: "lin", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
		{Name: "quad", Kind: modelshard.KindSRM, Col: cfg.DeepDims[0], Init: xavier()},
	}
	schema, _ = stackedFC(schema, "deep", cfg.DeepDims[0], cfg.DeepDims)
	return schema, nil
}

func buildDeepFM(cfg Config) (modelshard.Schema, error) {
	if len(cfg.DeepDims) == 0 {
		return nil, errors.New("modelzoo: deep_fm requires deep_dims")
	}
	schema := modelshard.Schema{
		{Name: "lin", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
		{Name: "quad", Kind: modelshard.KindSRM, Col: cfg.K, Init: xavier()},
	}
	schema, _ = stackedFC(schema, "deep", cfg.K, cfg.DeepDims)
	return schema, nil
}

func buildDCN(cfg Config) (modelshard.Schema, error) {
	if cfg.CrossLayers <= 0 {
		return nil, errors.New("modelzoo: dcn requires cross > 0")
	}
	schema := modelshard.Schema{
		{Name: "lin", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
		{Name: "quad", Kind: modelshard.KindSRM, Col: cfg.K, Init: xavier()},
	}
	for i := 0; i < cfg.CrossLayers; i++ {
		schema = append(schema,
			modelshard.VarSpec{Name: fmt.Sprintf("cross_W%d", i), Kind: modelshard.KindTSR, Shape: model.Shape{cfg.K}, Init: xavier()},
			modelshard.VarSpec{Name: fmt.Sprintf("cross_b%d", i), Kind: modelshard.KindTSR, Shape: model.Shape{cfg.K}, Init: zeros()},
		)
	}
	schema, deepOut := stackedFC(schema, "deep", cfg.K, cfg.DeepDims)
	finalIn := cfg.K + deepOut
	schema = append(schema, modelshard.VarSpec{Name: "Z2_W", Kind: modelshard.KindTSR, Shape: model.Shape{finalIn, 1}, Init: xavier()})
	return schema, nil
}

func buildXDeepFM(cfg Config) (modelshard.Schema, error) {
	if len(cfg.CINDims) == 0 {
		return nil, errors.New("modelzoo: xdeep_fm requires cin_dims")
	}
	schema := modelshard.Schema{
		{Name: "lin", Kind: modelshard.KindSRM, Col: 1, Init: zeros()},
		{Name: "quad", Kind: modelshard.KindSRM, Col: cfg.K, Init: xavier()},
	}
	for i := range cfg.CINDims {
		schema = append(schema, modelshard.VarSpec{
			Name: fmt.Sprintf("cin_W%d", i), Kind: modelshard.KindTSR,
			Shape: model.Shape{cfg.CINDims[i], cfg.K}, Init: xavier(),
		})
	}
	schema, deepOut := stackedFC(schema, "deep", cfg.K, cfg.DeepDims)
	cinOut := 0
	for _, d := range cfg.CINDims {
		cinOut += d
	}
	finalIn := cinOut + deepOut
	schema = append(schema, modelshard.VarSpec{Name: "Z2_W", Kind: modelshard.KindTSR, Shape: model.Shape{finalIn, 1}, Init: xavier()})
	return schema, nil
}

func buildAutoInt(cfg Config) (modelshard.Schema, error) {
	if cfg.AttnHeads <= 0 || cfg.AttnLayers <= 0 {
		return nil, errors.New("modelzoo: auto_int requires att_h > 0 and att_s > 0")
	}
	schema := modelshard.Schema{
		{Name: "quad", Kind: modelshard.KindSRM, Col: cfg.K, Init: xavier()},
	}
	for s := 0; s < cfg.AttnLayers; s++ {
		for h := 0; h < cfg.AttnHeads; h++ {
			for _, role := range []string{"Wq", "Wk", "Wv"} {
				schema = append(schema, modelshard.VarSpec{
					Name: fmt.Sprintf("mhsar%d_%s_%d", s, role, h), Kind: modelshard.KindTSR,
					Shape: model.Shape{cfg.K, cfg.AttnWidth}, Init: xavier(),
				})
			}
		}
	}
	return schema, nil
}

func buildDTN(cfg Config) (modelshard.Schema, error) {
	if len(cfg.UserDeepDims) == 0 || len(cfg.ItemDeepDims) == 0 {
		return nil, errors.New("modelzoo: dtn requires user_deep_dims and item_deep_dims")
	}
	schema := modelshard.Schema{
		{Name: "UE", Kind: modelshard.KindSRM, Col: cfg.UserDeepDims[0], Init: xavier()},
		{Name: "IE", Kind: modelshard.KindSRM, Col: cfg.ItemDeepDims[0], Init: xavier()},
	}
	schema, userOut := stackedFC(schema, "USFC", cfg.UserDeepDims[0], cfg.UserDeepDims)
	schema, itemOut := stackedFC(schema, "ISFC", cfg.ItemDeepDims[0], cfg.ItemDeepDims)
	schema, _ = stackedFC(schema, "SFC", userOut+itemOut, cfg.DeepDims)
	return schema, nil
}
