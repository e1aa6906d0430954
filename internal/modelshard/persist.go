package modelshard

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"deepx/internal/fsx"
	"deepx/internal/model"
	"deepx/internal/optimizer"
	"deepx/internal/shardfn"
	"deepx/internal/wire"
)

// manifestNames returns the shard-suffixed file names for shard i under
// dir.
func manifestNames(dir string, i int) (modelPath, optPath, tsPath, freqPath, successPath string) {
	suffix := fmt.Sprintf(".%d", i)
	return filepath.Join(dir, "model.bin"+suffix),
		filepath.Join(dir, "optimizer.bin"+suffix),
		filepath.Join(dir, "ts_store.bin"+suffix),
		filepath.Join(dir, "freq_store.bin"+suffix),
		filepath.Join(dir, "SUCCESS_"+suffix)
}

func readAll(ctx context.Context, fs fsx.FileSystem, path string) ([]byte, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func writeAll(ctx context.Context, fs fsx.FileSystem, path string, data []byte) error {
	w, err := fs.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ownedTensorMap deep-copies a (possibly view-backed) TensorMap so it
// survives after the source buffer (e.g. a decoded file) goes away.
func ownedTensorMap(tm *model.TensorMap) *model.TensorMap {
	out := model.NewTensorMap()
	for _, name := range tm.TSRNames() {
		t, _ := tm.TSR(name)
		out.SetTSR(name, t.Clone())
	}
	for _, name := range tm.SRMNames() {
		s, _ := tm.SRM(name)
		owned := model.NewSRM(s.Col())
		owned.SetInitializer(model.Initializer{Kind: model.InitZeros})
		s.Range(func(id uint64, row *model.Row) {
			owned.SetRow(id, append([]model.Float(nil), row.Data()...))
		})
		out.SetSRM(name, owned)
	}
	return out
}

// SaveModel persists this shard's parameters to dir, writing
// model.bin.<ShardID>. It does not write the
// SUCCESS marker: that is a distinct operation
// callers invoke only once every enabled artifact (text/feature-kv model,
// optimizer, TS/freq stores) has also landed, so a SUCCESS marker is never
// written for a partially-saved shard.
func (m *ModelShard) SaveModel(ctx context.Context, fs fsx.FileSystem, dir string) error {
	if err := fs.Mkdir(ctx, dir); err != nil {
		return errors.Wrap(err, "modelshard: mkdir model dir")
	}
	modelPath, _, _, _, _ := manifestNames(dir, m.ShardID)
	return errors.Wrap(writeAll(ctx, fs, modelPath, wire.EncodeTensorMap(m.param)), "modelshard: write model.bin")
}

// SaveSuccess writes this shard's SUCCESS_.<i> marker on its own, for
// callers that stage model/optimizer/ts/freq files individually and only
// want the marker written once everything else has landed.
func (m *ModelShard) SaveSuccess(ctx context.Context, fs fsx.FileSystem, dir string) error {
	_, _, _, _, successPath := manifestNames(dir, m.ShardID)
	return errors.Wrap(writeAll(ctx, fs, successPath, []byte("ok")), "modelshard: write SUCCESS marker")
}

// SaveTextModel writes a human-readable dump of this shard's parameters to
// model.txt.<ShardID>, one "name\tid_or_-\tv0 v1 ... vK-1" line per dense
// tensor and per live sparse row.
func (m *ModelShard) SaveTextModel(ctx context.Context, fs fsx.FileSystem, dir string) error {
	var buf []byte
	for _, name := range m.param.TSRNames() {
		t, _ := m.param.TSR(name)
		buf = append(buf, fmt.Sprintf("%s\t-\t%s\n", name, floatsToText(t.Data()))...)
	}
	for _, name := range m.param.SRMNames() {
		srm, _ := m.param.SRM(name)
		srm.Range(func(id uint64, row *model.Row) {
			buf = append(buf, fmt.Sprintf("%s\t%d\t%s\n", name, id, floatsToText(row.Data()))...)
		})
	}
	return errors.Wrap(writeAll(ctx, fs, filepath.Join(dir, fmt.Sprintf("model.txt.%d", m.ShardID)), buf), "modelshard: write model.txt")
}

func floatsToText(vs []model.Float) string {
	out := make([]byte, 0, len(vs)*8)
	for i, v := range vs {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("%g", float64(v))...)
	}
	return string(out)
}

// SaveFeatureKVModel exports every live sparse row as a feature_id → vector
// record, for a downstream online-serving key-value store. version
// selects the record layout; version 1 is name:id\tv0 v1 ... vK-1 per line,
// the only version this rewrite implements; unrecognized versions error
// rather than silently writing a format a consumer doesn't expect.
func (m *ModelShard) SaveFeatureKVModel(ctx context.Context, fs fsx.FileSystem, dir string, version int) error {
	if version != 1 {
		return errors.Errorf("modelshard: unsupported out_feature_kv_protocol_version %d", version)
	}
	var buf []byte
	for _, name := range m.param.SRMNames() {
		srm, _ := m.param.SRM(name)
		srm.Range(func(id uint64, row *model.Row) {
			buf = append(buf, fmt.Sprintf("%s:%d\t%s\n", name, id, floatsToText(row.Data()))...)
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("model.feature_kv.%d", m.ShardID))
	return errors.Wrap(writeAll(ctx, fs, path, buf), "modelshard: write model.feature_kv")
}

// WarmupModel behaves like LoadModel but merges saved rows on top of
// already-initialized param state instead of replacing it outright: dense
// tensors are overwritten wholesale (there is
// nothing partial to merge for a TSR), sparse rows are merged id-by-id so
// any row this shard already created via Pull survives if the saved
// manifest doesn't also name it.
func (m *ModelShard) WarmupModel(ctx context.Context, fs fsx.FileSystem, dir string) error {
	savedShardBytes, err := readAll(ctx, fs, filepath.Join(dir, "shard.bin"))
	if err != nil {
		return errors.Wrap(err, "modelshard: read shard.bin")
	}
	savedShard, err := shardfn.Unmarshal(savedShardBytes)
	if err != nil {
		return errors.Wrap(err, "modelshard: parse shard.bin")
	}

	load := func(i int) (*model.TensorMap, error) {
		modelPath, _, _, _, _ := manifestNames(dir, i)
		raw, err := readAll(ctx, fs, modelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "modelshard: warmup read %s", modelPath)
		}
		return wire.DecodeTensorMapView(raw)
	}

	merge := func(remote *model.TensorMap, filter func(uint64) bool) {
		for _, name := range remote.TSRNames() {
			if m.Shard.TSRShardId(name) != m.ShardID {
				continue
			}
			t, _ := remote.TSR(name)
			dst, ok := m.param.TSR(name)
			if !ok {
				m.param.SetTSR(name, t.Clone())
				continue
			}
			_ = dst.CopyFrom(t)
		}
		for _, name := range remote.SRMNames() {
			srcSRM, _ := remote.SRM(name)
			dstSRM, ok := m.param.SRM(name)
			if !ok {
				dstSRM = model.NewSRM(srcSRM.Col())
				m.param.SetSRM(name, dstSRM)
			}
			dstSRM.Merge(srcSRM, filter)
		}
	}

	if savedShard.Equal(m.Shard) {
		remote, err := load(m.ShardID)
		if err != nil {
			return err
		}
		merge(remote, nil)
		return nil
	}
	for i := 0; i < savedShard.N; i++ {
		remote, err := load(i)
		if err != nil {
			return err
		}
		merge(remote, func(id uint64) bool { return m.Shard.SRMShardId(id) == m.ShardID })
	}
	return nil
}

// SaveShardManifest writes shard.bin, the runtime Shard configuration a
// future LoadModel compares itself against to decide whether resharding
// is needed. Only PS 0 calls this.
func SaveShardManifest(ctx context.Context, fs fsx.FileSystem, dir string, shard shardfn.Shard) error {
	return errors.Wrap(writeAll(ctx, fs, filepath.Join(dir, "shard.bin"), shard.Marshal()), "modelshard: write shard.bin")
}

// SaveGraphBlob writes the compiled graph's opaque serialized bytes to
// graph.bin. Graph compilation itself is out of scope; callers
// pass through whatever OpContext already produced.
func SaveGraphBlob(ctx context.Context, fs fsx.FileSystem, dir string, blob []byte) error {
	return errors.Wrap(writeAll(ctx, fs, filepath.Join(dir, "graph.bin"), blob), "modelshard: write graph.bin")
}

// LoadModel loads dir into this shard. If the
// saved Shard equals the runtime Shard, it loads shard ShardID's file
// directly. Otherwise it iterates every remote shard the saved manifest
// names, loads each, and merges into this shard filtering rows by
// Shard.SRMShardId(id) == ShardID — the re-sharding path.
func (m *ModelShard) LoadModel(ctx context.Context, fs fsx.FileSystem, dir string) error {
	savedShardBytes, err := readAll(ctx, fs, filepath.Join(dir, "shard.bin"))
	if err != nil {
		return errors.Wrap(err, "modelshard: read shard.bin")
	}
	savedShard, err := shardfn.Unmarshal(savedShardBytes)
	if err != nil {
		return errors.Wrap(err, "modelshard: parse shard.bin")
	}

	m.param = model.NewTensorMap()
	for _, v := range m.schema {
		if v.Kind == KindSRM {
			s := model.NewSRM(v.Col)
			s.SetInitializer(v.Init)
			m.param.SetSRM(v.Name, s)
		}
	}

	if savedShard.Equal(m.Shard) {
		modelPath, _, _, _, _ := manifestNames(dir, m.ShardID)
		raw, err := readAll(ctx, fs, modelPath)
		if err != nil {
			return errors.Wrapf(err, "modelshard: read %s", modelPath)
		}
		tm, err := wire.DecodeTensorMapView(raw)
		if err != nil {
			return errors.Wrap(err, "modelshard: decode model.bin")
		}
		m.param = ownedTensorMap(tm)
		return nil
	}

	// Re-sharding path: saved shard count/hash differs from ours. Load
	// every remote shard's file and merge only the rows we now own.
	for i := 0; i < savedShard.N; i++ {
		modelPath, _, _, _, _ := manifestNames(dir, i)
		raw, err := readAll(ctx, fs, modelPath)
		if err != nil {
			return errors.Wrapf(err, "modelshard: resharding read %s", modelPath)
		}
		remote, err := wire.DecodeTensorMapView(raw)
		if err != nil {
			return errors.Wrapf(err, "modelshard: resharding decode %s", modelPath)
		}
		for _, name := range remote.TSRNames() {
			if m.Shard.TSRShardId(name) != m.ShardID {
				continue
			}
			t, _ := remote.TSR(name)
			m.param.SetTSR(name, t.Clone())
		}
		for _, name := range remote.SRMNames() {
			srcSRM, _ := remote.SRM(name)
			dstSRM, ok := m.param.SRM(name)
			if !ok {
				dstSRM = model.NewSRM(srcSRM.Col())
				m.param.SetSRM(name, dstSRM)
			}
			dstSRM.Merge(srcSRM, func(id uint64) bool { return m.Shard.SRMShardId(id) == m.ShardID })
		}
	}
	return nil
}

// InitOptimizer constructs a fresh optimizer by config, without loading
// any saved state.
func (m *ModelShard) InitOptimizer(cfg optimizer.Config) error {
	opt, err := optimizer.New(cfg)
	if err != nil {
		return err
	}
	m.opt = opt
	return nil
}

// SaveOptimizer persists this shard's optimizer state. The optimizer name
// is written as a length-prefixed header so LoadOptimizer can discover it
// without a side-channel config value.
func (m *ModelShard) SaveOptimizer(ctx context.Context, fs fsx.FileSystem, dir string) error {
	_, optPath, _, _, _ := manifestNames(dir, m.ShardID)
	ada, ok := m.opt.(interface{ State() map[string]*model.SRM })
	body := []byte{}
	if ok {
		tm := model.NewTensorMap()
		for name, srm := range ada.State() {
			tm.SetSRM(name, srm)
		}
		body = wire.EncodeTensorMap(tm)
	}
	name := m.opt.Name()
	out := make([]byte, 0, 4+len(name)+len(body))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	out = append(out, body...)
	return errors.Wrap(writeAll(ctx, fs, optPath, out), "modelshard: write optimizer.bin")
}

// LoadOptimizer reads the optimizer name from the saved file's header,
// constructs it via cfg (whose LearningRate/Eps override the file — the
// file is only authoritative about *which* optimizer ran), then restores
// its auxiliary SRM state.
func (m *ModelShard) LoadOptimizer(ctx context.Context, fs fsx.FileSystem, dir string, cfg optimizer.Config) error {
	_, optPath, _, _, _ := manifestNames(dir, m.ShardID)
	raw, err := readAll(ctx, fs, optPath)
	if err != nil {
		return errors.Wrap(err, "modelshard: read optimizer.bin")
	}
	if len(raw) < 1 {
		return errors.New("modelshard: empty optimizer.bin")
	}
	nameLen := int(raw[0])
	if len(raw) < 1+nameLen {
		return errors.New("modelshard: truncated optimizer.bin header")
	}
	cfg.Name = string(raw[1 : 1+nameLen])
	opt, err := optimizer.New(cfg)
	if err != nil {
		return err
	}
	if ada, ok := opt.(interface {
		EnsureSRMState(string, int)
		State() map[string]*model.SRM
	}); ok && len(raw) > 1+nameLen {
		tm, err := wire.DecodeTensorMapView(raw[1+nameLen:])
		if err != nil {
			return errors.Wrap(err, "modelshard: decode optimizer state")
		}
		for _, srmName := range tm.SRMNames() {
			srm, _ := tm.SRM(srmName)
			ada.EnsureSRMState(srmName, srm.Col())
			ada.State()[srmName] = srm
		}
	}
	m.opt = opt
	return nil
}

// buntKey packs a (name, id) pair into a buntdb key.
func buntKey(name string, id uint64) string { return fmt.Sprintf("%s\x00%d", name, id) }

func parseBuntKey(key string) (name string, id uint64) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			name = key[:i]
			fmt.Sscanf(key[i+1:], "%d", &id) //nolint:errcheck
			return
		}
	}
	return key, 0
}

// saveBuntSnapshot builds an in-memory buntdb database via fill, flattens
// it to a flat key\0value\0... byte stream, and writes that stream to
// path. buntdb is used only in memory to collect the records and emit them
// in key order; the file itself is the flat stream, not a buntdb database.
func saveBuntSnapshot(ctx context.Context, fs fsx.FileSystem, path string, fill func(tx *buntdb.Tx) error) error {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return errors.Wrap(err, "modelshard: open in-memory buntdb")
	}
	defer db.Close()
	if err := db.Update(fill); err != nil {
		return errors.Wrap(err, "modelshard: fill buntdb snapshot")
	}
	var buf []byte
	if err := db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			buf = append(buf, []byte(key)...)
			buf = append(buf, 0)
			buf = append(buf, []byte(value)...)
			buf = append(buf, 0)
			return true
		})
	}); err != nil {
		return errors.Wrap(err, "modelshard: snapshot buntdb")
	}
	return writeAll(ctx, fs, path, buf)
}

// loadBuntSnapshot parses a stream written by saveBuntSnapshot and calls
// onRecord(name, id, value) for every record.
func loadBuntSnapshot(ctx context.Context, fs fsx.FileSystem, path string, onRecord func(name string, id uint64, value string)) error {
	raw, err := readAll(ctx, fs, path)
	if err != nil {
		return err
	}
	fields := splitNUL(raw)
	for i := 0; i+1 < len(fields); i += 2 {
		name, id := parseBuntKey(fields[i])
		onRecord(name, id, fields[i+1])
	}
	return nil
}

func splitNUL(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out
}

// SaveTSStore persists the TSStore as an embedded buntdb snapshot (one
// record per (name,id) → timestamp).
func (m *ModelShard) SaveTSStore(ctx context.Context, fs fsx.FileSystem, dir string) error {
	if m.ts == nil {
		return nil
	}
	_, _, tsPath, _, _ := manifestNames(dir, m.ShardID)
	return saveBuntSnapshot(ctx, fs, tsPath, func(tx *buntdb.Tx) error {
		var setErr error
		m.ts.Range(func(name string, id uint64, ts int64) {
			if _, _, err := tx.Set(buntKey(name, id), fmt.Sprintf("%d", ts), nil); err != nil {
				setErr = err
			}
		})
		return setErr
	})
}

// LoadTSStore restores a TSStore previously written by SaveTSStore. now
// and expireThreshold configure the store the same as InitTSStore.
func (m *ModelShard) LoadTSStore(ctx context.Context, fs fsx.FileSystem, dir string, now, expireThreshold int64) error {
	m.InitTSStore(now, expireThreshold)
	_, _, tsPath, _, _ := manifestNames(dir, m.ShardID)
	return loadBuntSnapshot(ctx, fs, tsPath, func(name string, id uint64, value string) {
		var ts int64
		fmt.Sscanf(value, "%d", &ts) //nolint:errcheck
		m.ts.Bump(name, id, ts)
	})
}

// SaveFreqStore persists the FreqStore as an embedded buntdb snapshot (one
// record per (name,id) → lifetime count).
func (m *ModelShard) SaveFreqStore(ctx context.Context, fs fsx.FileSystem, dir string) error {
	if m.freq == nil {
		return nil
	}
	_, _, _, freqPath, _ := manifestNames(dir, m.ShardID)
	return saveBuntSnapshot(ctx, fs, freqPath, func(tx *buntdb.Tx) error {
		var setErr error
		m.freq.Range(func(name string, id uint64, count uint64) {
			if _, _, err := tx.Set(buntKey(name, id), fmt.Sprintf("%d", count), nil); err != nil {
				setErr = err
			}
		})
		return setErr
	})
}

// LoadFreqStore restores a FreqStore previously written by SaveFreqStore.
func (m *ModelShard) LoadFreqStore(ctx context.Context, fs fsx.FileSystem, dir string, threshold uint64) error {
	m.InitFreqStore(threshold)
	_, _, _, freqPath, _ := manifestNames(dir, m.ShardID)
	req := model.NewPullRequest()
	req.IsTrain = true
	return loadBuntSnapshot(ctx, fs, freqPath, func(name string, id uint64, value string) {
		var count uint64
		fmt.Sscanf(value, "%d", &count) //nolint:errcheck
		req.Clear()
		req.IsTrain = true
		req.AddSRMID(name, id)
		req.IDFreqMap[id] = count
		m.freq.Filter(req)
	})
}
