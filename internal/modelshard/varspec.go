package modelshard

import "deepx/internal/model"

// VarKind distinguishes a graph Variable's physical representation.
type VarKind int

const (
	// KindTSR is a dense tensor of fixed shape.
	KindTSR VarKind = iota
	// KindSRM is a sparse row matrix, logical shape (∞, K).
	KindSRM
)

// VarSpec is one entry of a compiled graph's Variable list: a name, its physical kind, its shape (TSR) or column count
// (SRM), and its initializer. Schema is the ordered list a model
// constructor in internal/modelzoo produces; ModelShard.InitModel walks
// it to build the initial param TensorMap.
type VarSpec struct {
	Name  string
	Kind  VarKind
	Shape model.Shape // used when Kind == KindTSR
	Col   int         // used when Kind == KindSRM
	Init  model.Initializer
}

// Schema is the ordered list of a graph's Variable declarations.
type Schema []VarSpec
