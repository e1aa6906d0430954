// Package config defines Config, the single struct every deepx process
// (coordinator, PS, worker, predictor) builds once in main and threads
// down. Validation uses go-playground/validator: struct tags checked once,
// before any network startup, independent of whatever cobra/pflag parsing
// produced the values.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the flattened set of CLI options recognized across
// sub-commands and roles. Not every field applies to every
// (sub_command, role) combination; Validate enforces the combinations the
// spec calls out.
type Config struct {
	SubCommand string `validate:"required,oneof=train predict"`
	Role       string `validate:"required,oneof=cs ps wk"`

	CSAddr   string   `validate:"required_if=Role wk,required_if=Role cs"`
	PSAddrs  []string `validate:"required_if=Role wk,required_if=Role ps"`
	PSID     int      `validate:"min=0"`
	PSThread int      `validate:"min=1"`

	InstanceReader       string `validate:"required_if=Role wk"`
	InstanceReaderConfig string
	Model                string `validate:"required_unless=Role cs"`
	ModelConfig          string
	Optimizer            string `validate:"required_if=Role ps"`
	OptimizerConfig      string

	Epoch int `validate:"min=0"`
	Batch int `validate:"min=1"`

	In         string `validate:"required_if=Role cs"`
	ReverseIn  bool
	ShuffleIn  bool
	InModel    string
	WarmupModel string

	OutModel               string `validate:"required_if=Role ps"`
	OutTextModel           bool
	OutFeatureKVModel      bool
	OutFeatureKVProtocolVersion int `validate:"omitempty,oneof=1"`
	OutPredict             string
	OutModelRemoveZeros    bool

	Verbose int `validate:"min=0"`
	Seed    int64

	TSEnable           bool
	TSNow              int64
	TSExpireThreshold  int64
	FreqFilterThreshold uint64

	// ListenAddr is this process's own bind address (role=ps: PSAddrs[PSID];
	// role=cs: the coordinator's listen_endpoint). Derived in Resolve, not
	// set directly by flags.
	ListenAddr string `validate:"-"`

	// DumpModel gates CS-triggered ModelSaveRequest at epoch boundaries
	// ("trigger ModelSaveRequest to each PS (only on training
	// runs with dump_model=1)").
	DumpModel bool

	// FileTimeoutSeconds, 0 disables reclamation ("file timeouts
	// (if configured non-zero) move an in-flight file back to pending").
	FileTimeoutSeconds int `validate:"min=0"`
}

var validate = validator.New()

// Validate checks every struct tag and the cross-field combinations that
// must abort before any network startup. The "instance_reader_config
// specifies batch, it overrides --batch" override is left to the instance
// reader's own config parsing, since instance readers are an external
// collaborator this package does not interpret.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("config: %s", describe(verrs[0]))
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.SubCommand == "train" && c.Epoch <= 0 {
		return fmt.Errorf("config: epoch must be > 0 on a train run")
	}
	if c.Role == "ps" && c.PSID >= len(c.PSAddrs) {
		return fmt.Errorf("config: ps_id %d out of range for %d ps_addrs", c.PSID, len(c.PSAddrs))
	}
	if c.OutFeatureKVModel && c.OutFeatureKVProtocolVersion == 0 {
		return fmt.Errorf("config: out_feature_kv_model requires out_feature_kv_protocol_version")
	}
	if c.TSEnable && c.TSExpireThreshold <= 0 {
		return fmt.Errorf("config: ts_enable requires a positive ts_expire_threshold")
	}
	return nil
}

// Resolve fills derived fields (ListenAddr) once validation has passed.
func Resolve(c *Config) error {
	switch c.Role {
	case "ps":
		if c.PSID < 0 || c.PSID >= len(c.PSAddrs) {
			return fmt.Errorf("config: ps_id %d out of range", c.PSID)
		}
		c.ListenAddr = c.PSAddrs[c.PSID]
	case "cs":
		c.ListenAddr = c.CSAddr
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
