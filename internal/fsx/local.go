package fsx

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Local is the default FileSystem backend: the host's own disk.
type Local struct{}

// NewLocal returns a Local filesystem backend.
func NewLocal() *Local { return &Local{} }

// Open implements FileSystem.
func (Local) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	return f, errors.Wrapf(err, "fsx/local: open %s", path)
}

// Create implements FileSystem.
func (Local) Create(_ context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "fsx/local: mkdir for %s", path)
	}
	f, err := os.Create(path)
	return f, errors.Wrapf(err, "fsx/local: create %s", path)
}

// List implements FileSystem.
func (Local) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/local: list %s", dir)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

// Mkdir implements FileSystem.
func (Local) Mkdir(_ context.Context, dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, 0o755), "fsx/local: mkdir %s", dir)
}

// Rename implements FileSystem.
func (Local) Rename(_ context.Context, oldPath, newPath string) error {
	return errors.Wrapf(os.Rename(oldPath, newPath), "fsx/local: rename %s -> %s", oldPath, newPath)
}

// Exists implements FileSystem.
func (Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "fsx/local: stat %s", path)
}
