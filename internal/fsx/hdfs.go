package fsx

import (
	"context"
	"io"
	"os"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
)

// HDFS is the FileSystem backend for hdfs:// URIs, backing the
// distributed file set workers stream training instances from and
// HDFS-style deployments.
type HDFS struct {
	client *hdfs.Client
}

// NewHDFS dials the HDFS namenode at addr ("host:port").
func NewHDFS(addr string) (*HDFS, error) {
	c, err := hdfs.New(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/hdfs: connect %s", addr)
	}
	return &HDFS{client: c}, nil
}

// Open implements FileSystem.
func (h *HDFS) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := h.client.Open(path)
	return f, errors.Wrapf(err, "fsx/hdfs: open %s", path)
}

// Create implements FileSystem.
func (h *HDFS) Create(_ context.Context, path string) (io.WriteCloser, error) {
	if err := h.client.MkdirAll(parentDir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "fsx/hdfs: mkdir for %s", path)
	}
	_ = h.client.Remove(path)
	f, err := h.client.Create(path)
	return f, errors.Wrapf(err, "fsx/hdfs: create %s", path)
}

// List implements FileSystem.
func (h *HDFS) List(_ context.Context, dir string) ([]string, error) {
	infos, err := h.client.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/hdfs: list %s", dir)
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fi.Name())
	}
	return out, nil
}

// Mkdir implements FileSystem.
func (h *HDFS) Mkdir(_ context.Context, dir string) error {
	return errors.Wrapf(h.client.MkdirAll(dir, 0o755), "fsx/hdfs: mkdir %s", dir)
}

// Rename implements FileSystem.
func (h *HDFS) Rename(_ context.Context, oldPath, newPath string) error {
	return errors.Wrapf(h.client.Rename(oldPath, newPath), "fsx/hdfs: rename %s -> %s", oldPath, newPath)
}

// Exists implements FileSystem.
func (h *HDFS) Exists(_ context.Context, path string) (bool, error) {
	_, err := h.client.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "fsx/hdfs: stat %s", path)
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
