package modelshard

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"deepx/internal/fsx"
	"deepx/internal/wire"
)

// legacyModelName matches the pre-existing on-disk naming used before the
// current model.bin.<i> layout: param.bin.<id>.<N>.-2.1
func legacyModelName(dir string, id, n int) string {
	return filepath.Join(dir, fmt.Sprintf("param.bin.%d.%d.-2.1", id, n))
}

// SaveModelLegacy writes param.bin.<ShardID>.<N>.-2.1 under dir. It is a
// distinct opt-in operation from SaveModel; current deployments should not
// rely on it.
func (m *ModelShard) SaveModelLegacy(ctx context.Context, fs fsx.FileSystem, dir string) error {
	path := legacyModelName(dir, m.ShardID, m.Shard.N)
	return errors.Wrap(writeAll(ctx, fs, path, wire.EncodeTensorMap(m.param)), "modelshard: write legacy model file")
}

// hasCurrentLayout reports whether dir carries a current-layout SUCCESS
// marker for shard id, the signal LoadModel uses to pick current vs.
// legacy on-disk layout.
func hasCurrentLayout(ctx context.Context, fs fsx.FileSystem, dir string, id int) bool {
	_, _, _, _, successPath := manifestNames(dir, id)
	ok, err := fs.Exists(ctx, successPath)
	return err == nil && ok
}

// LoadModelAny loads dir, transparently accepting either the current or
// the legacy on-disk layout. It otherwise behaves exactly like
// LoadModel, including the re-sharding merge path.
func (m *ModelShard) LoadModelAny(ctx context.Context, fs fsx.FileSystem, dir string) error {
	if hasCurrentLayout(ctx, fs, dir, m.ShardID) {
		return m.LoadModel(ctx, fs, dir)
	}
	path := legacyModelName(dir, m.ShardID, m.Shard.N)
	raw, err := readAll(ctx, fs, path)
	if err != nil {
		return errors.Wrapf(err, "modelshard: read legacy model file %s", path)
	}
	tm, err := wire.DecodeTensorMapView(raw)
	if err != nil {
		return errors.Wrap(err, "modelshard: decode legacy model file")
	}
	m.param = ownedTensorMap(tm)
	return nil
}
