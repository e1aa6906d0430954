// Package shardfn implements Shard: the pure function mapping a tensor
// name or sparse feature id to a shard index.
// It is deliberately stateless and carries no storage — ModelShard (see
// internal/modelshard) is the stateful component that a Shard value
// configures.
package shardfn

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// Mode selects how a Shard computes indices.
type Mode string

const (
	// ModeNone collapses the shard space to a single shard: N=1, every
	// TSRShardId/SRMShardId call returns 0.
	ModeNone Mode = "none"
	// ModeHash distributes across N shards by hashing the name/id with
	// FuncName.
	ModeHash Mode = "hash"
)

// FuncName names the hash function ModeHash uses. The function is part of
// a Shard's persisted identity: two shards differing
// only in FuncName are not equivalent and force the re-sharding load path.
type FuncName string

const (
	// FuncFNV uses hash/fnv-1a (hash64 also falls back to it for any
	// other FuncName value).
	FuncFNV FuncName = "fnv"
	// FuncXXHash uses github.com/cespare/xxhash/v2, a faster
	// non-cryptographic hash better suited to high pull/push QPS.
	FuncXXHash FuncName = "xxhash"
)

// Shard is a pure sharding configuration: (mode, size N, func_name). Two
// Shards are equivalent iff all three fields match byte-for-byte.
type Shard struct {
	Mode     Mode
	N        int
	FuncName FuncName
}

// Init returns a configured Shard. mode=none forces N=1 regardless of the
// requested size.
func Init(mode Mode, n int, funcName FuncName) (Shard, error) {
	if mode != ModeNone && mode != ModeHash {
		return Shard{}, fmt.Errorf("shardfn: unknown mode %q", mode)
	}
	if mode == ModeNone {
		return Shard{Mode: ModeNone, N: 1, FuncName: funcName}, nil
	}
	if n <= 0 {
		return Shard{}, fmt.Errorf("shardfn: hash mode requires N > 0, got %d", n)
	}
	if funcName != FuncFNV && funcName != FuncXXHash {
		return Shard{}, fmt.Errorf("shardfn: unknown func_name %q", funcName)
	}
	return Shard{Mode: ModeHash, N: n, FuncName: funcName}, nil
}

// Equal reports whether s and o have byte-identical (mode, N, func_name).
// Loading a model whose saved Shard disagrees forces the re-sharding path.
func (s Shard) Equal(o Shard) bool {
	return s.Mode == o.Mode && s.N == o.N && s.FuncName == o.FuncName
}

func (s Shard) hash64(b []byte) uint64 {
	switch s.FuncName {
	case FuncXXHash:
		return xxhash.Sum64(b)
	default:
		h := fnv.New64a()
		h.Write(b) //nolint:errcheck // hash.Hash.Write never errors
		return h.Sum64()
	}
}

// TSRShardId maps a dense tensor name to a shard index in [0,N). It is a
// total, deterministic function of (mode, N, func_name, name) only.
func (s Shard) TSRShardId(name string) int {
	if s.Mode == ModeNone {
		return 0
	}
	return int(s.hash64([]byte(name)) % uint64(s.N))
}

// SRMShardId maps a sparse feature id to a shard index in [0,N). Group id
// bits are part of the id and do participate in this hash — the spec note
// that "group id never affects sharding" refers to graph-level embedding
// group lookup, not this function, which must be stable across runs
// regardless of id structure.
func (s Shard) SRMShardId(id uint64) int {
	if s.Mode == ModeNone {
		return 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return int(s.hash64(buf[:]) % uint64(s.N))
}

// Marshal serializes the Shard for shard.bin so a loaded model's shard
// configuration can be compared against the runtime Shard.
func (s Shard) Marshal() []byte {
	buf := make([]byte, 0, 16+len(s.FuncName))
	buf = append(buf, []byte(s.Mode)...)
	buf = append(buf, 0)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(s.N))
	buf = append(buf, n[:]...)
	buf = append(buf, []byte(s.FuncName)...)
	return buf
}

// Unmarshal parses a Shard produced by Marshal.
func Unmarshal(buf []byte) (Shard, error) {
	i := 0
	for i < len(buf) && buf[i] != 0 {
		i++
	}
	if i+9 > len(buf) {
		return Shard{}, fmt.Errorf("shardfn: truncated shard record")
	}
	mode := Mode(buf[:i])
	n := binary.LittleEndian.Uint64(buf[i+1 : i+9])
	funcName := FuncName(buf[i+9:])
	return Shard{Mode: mode, N: int(n), FuncName: funcName}, nil
}
