// Package instreader defines the boundary between the training/serving
// loop in this module and instance readers — libsvm-style text parsers
// that turn raw file bytes into mini-batches of labeled sparse feature
// rows. Readers are out of scope ("Instance readers (libsvm-style
// text parsers) — consumed as an iterator of mini-batches"); this package
// only fixes the Reader contract TrainerContext programs against, plus a
// LibSVM implementation sufficient to drive end-to-end scenarios without a full feature-parsing engine.
package instreader

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"deepx/internal/model"
)

// Instance is one labeled training example: a label, an optional sample
// weight, and the sparse feature ids present in this row (dense values are
// not modeled; every present feature is treated as present-with-weight-1,
// matching the common libsvm-for-CTR convention the rank example models).
type Instance struct {
	Label  model.Float
	Weight model.Float
	IDs    []uint64
}

// Batch is a fixed-size slice of Instances, the unit a worker's
// processBatch operates on.
type Batch []Instance

// Reader iterates mini-batches from an open file.
// Next returns io.EOF once exhausted; implementations are not
// required to be safe for concurrent use.
type Reader interface {
	// Next returns the next batch of up to batchSize instances, or io.EOF
	// when the underlying source is exhausted. A final short batch is
	// valid and must still be processed.
	Next(batchSize int) (Batch, error)
}

// LibSVM parses "label[:weight] id1:val1 id2:val2 ..." lines, the format
// scenario A's fixture ("1 1:1 2:1", "0 2:1 3:1", ...) uses. Only the
// feature ids are kept; the value text after each ':' is ignored, since this module's graph kernels
// are out of scope; downstream OpContext implementations that need real
// values should supply their own Reader.
type LibSVM struct {
	sc *bufio.Scanner
}

// NewLibSVM wraps r as a LibSVM Reader.
func NewLibSVM(r io.Reader) *LibSVM {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	return &LibSVM{sc: sc}
}

// Next implements Reader.
func (l *LibSVM) Next(batchSize int) (Batch, error) {
	if batchSize <= 0 {
		return nil, errors.New("instreader: batchSize must be > 0")
	}
	batch := make(Batch, 0, batchSize)
	for len(batch) < batchSize {
		if !l.sc.Scan() {
			if err := l.sc.Err(); err != nil {
				return batch, errors.Wrap(err, "instreader: scan")
			}
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		line := strings.TrimSpace(l.sc.Text())
		if line == "" {
			continue
		}
		inst, err := parseLibSVMLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "instreader: parse line %q", line)
		}
		batch = append(batch, inst)
	}
	return batch, nil
}

func parseLibSVMLine(line string) (Instance, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Instance{}, errors.New("empty line")
	}
	labelStr, weightStr, hasWeight := strings.Cut(fields[0], ":")
	label, err := strconv.ParseFloat(labelStr, 64)
	if err != nil {
		return Instance{}, errors.Wrap(err, "invalid label")
	}
	inst := Instance{Label: model.Float(label), Weight: 1, IDs: make([]uint64, 0, len(fields)-1)}
	if hasWeight {
		weight, err := strconv.ParseFloat(weightStr, 64)
		if err != nil {
			return Instance{}, errors.Wrap(err, "invalid weight")
		}
		inst.Weight = model.Float(weight)
	}
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, ":", 2)
		id, err := strconv.ParseUint(kv[0], 10, 64)
		if err != nil {
			return Instance{}, errors.Wrapf(err, "invalid feature id %q", kv[0])
		}
		inst.IDs = append(inst.IDs, id)
	}
	return inst, nil
}
