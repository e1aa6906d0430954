package modelzoo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnknownModel(t *testing.T) {
	_, err := New("no-such-model", DefaultConfig())
	assert.Error(t, err)
}

func TestEveryRegisteredNameBuilds(t *testing.T) {
	for _, name := range Names() {
		schema, err := New(name, DefaultConfig())
		require.NoErrorf(t, err, "model %q", name)
		assert.NotEmptyf(t, schema, "model %q produced an empty schema", name)
	}
}

func TestFMRejectsDegenerateK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 1
	_, err := New("fm", cfg)
	assert.Error(t, err)
}

func TestLRSchemaIsSparseLinear(t *testing.T) {
	schema, err := New("lr", DefaultConfig())
	require.NoError(t, err)
	require.Len(t, schema, 1)
	assert.Equal(t, "Wlin", schema[0].Name)
	assert.Equal(t, 1, schema[0].Col)
}

func TestParseConfigEmptyReturnsDefault(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigOverridesNamedKeys(t *testing.T) {
	cfg, err := ParseConfig("dim=100,k=16,deep_dims=128:64:1,cross=2")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Dim)
	assert.Equal(t, 16, cfg.K)
	assert.Equal(t, []int{128, 64, 1}, cfg.DeepDims)
	assert.Equal(t, 2, cfg.CrossLayers)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultConfig().CINDims, cfg.CINDims)
}

func TestParseConfigRejectsUnknownKey(t *testing.T) {
	_, err := ParseConfig("nonsense=1")
	assert.Error(t, err)
}

func TestParseConfigRejectsMalformedEntry(t *testing.T) {
	_, err := ParseConfig("dim")
	assert.Error(t, err)
}
