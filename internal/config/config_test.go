package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTrainConfig() *Config {
	return &Config{
		SubCommand:      "train",
		Role:             "wk",
		CSAddr:           "127.0.0.1:9000",
		PSAddrs:          []string{"127.0.0.1:9001"},
		PSThread:         1,
		InstanceReader:   "libsvm",
		Model:            "lr",
		Optimizer:        "sgd",
		Epoch:            1,
		Batch:            10,
		In:               "train.txt",
	}
}

func TestValidateAcceptsMinimalWorkerConfig(t *testing.T) {
	c := baseTrainConfig()
	assert.NoError(t, Validate(c))
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	c := baseTrainConfig()
	c.Role = "bogus"
	assert.Error(t, Validate(c))
}

func TestValidateRejectsZeroEpochOnTrain(t *testing.T) {
	c := baseTrainConfig()
	c.Epoch = 0
	assert.Error(t, Validate(c))
}

func TestValidateRejectsFeatureKVWithoutVersion(t *testing.T) {
	c := baseTrainConfig()
	c.OutFeatureKVModel = true
	assert.Error(t, Validate(c))
}

func baseCoordinatorConfig() *Config {
	return &Config{
		SubCommand: "train",
		Role:       "cs",
		CSAddr:     "127.0.0.1:9000",
		PSAddrs:    []string{"127.0.0.1:9001"},
		PSThread:   1,
		Epoch:      1,
		Batch:      10,
		In:         "train.txt",
	}
}

func TestValidateAcceptsMinimalCoordinatorConfig(t *testing.T) {
	c := baseCoordinatorConfig()
	assert.NoError(t, Validate(c))
}

func TestValidateRejectsCoordinatorWithoutCSAddr(t *testing.T) {
	c := baseCoordinatorConfig()
	c.CSAddr = ""
	assert.Error(t, Validate(c))
}

func TestValidateRejectsCoordinatorWithoutIn(t *testing.T) {
	c := baseCoordinatorConfig()
	c.In = ""
	assert.Error(t, Validate(c))
}

func TestValidateDoesNotRequireInstanceReaderModelOptimizerForCoordinator(t *testing.T) {
	c := baseCoordinatorConfig()
	c.InstanceReader = ""
	c.Model = ""
	c.Optimizer = ""
	assert.NoError(t, Validate(c))
}

func TestResolveDerivesCSListenAddr(t *testing.T) {
	c := &Config{Role: "cs", CSAddr: "127.0.0.1:9000"}
	require.NoError(t, Resolve(c))
	assert.Equal(t, "127.0.0.1:9000", c.ListenAddr)
}

func TestResolveDerivesPSListenAddr(t *testing.T) {
	c := &Config{Role: "ps", PSAddrs: []string{"a:1", "b:2"}, PSID: 1}
	require.NoError(t, Resolve(c))
	assert.Equal(t, "b:2", c.ListenAddr)
}

func TestResolveRejectsOutOfRangePSID(t *testing.T) {
	c := &Config{Role: "ps", PSAddrs: []string{"a:1"}, PSID: 5}
	assert.Error(t, Resolve(c))
}
