// Package fsx is the filesystem abstraction ModelShard and the coordinator
// file dispatcher consume as an external collaborator (: "Filesystem
// abstraction (local + HDFS-style) — consumed as open / list / mkdir /
// rename"). It defines the narrow contract and four concrete backends:
// local disk, HDFS, S3, and Azure Blob, selected by URI scheme.
package fsx

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// FileSystem is the narrow contract every storage backend implements. It
// intentionally does not expose seeking, locking, or partial writes: the
// model-persistence and file-dispatch callers only ever need whole-file
// reads/writes, directory listing, directory creation, and atomic rename.
type FileSystem interface {
	// Open returns a reader for path. Callers must Close it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create returns a writer for path, truncating any existing file.
	// Callers must Close it to flush.
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	// List returns the entries directly under dir (not recursive).
	List(ctx context.Context, dir string) ([]string, error)
	// Mkdir creates dir and any missing parents; it is not an error if
	// dir already exists.
	Mkdir(ctx context.Context, dir string) error
	// Rename moves oldPath to newPath, overwriting newPath if present.
	Rename(ctx context.Context, oldPath, newPath string) error
	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// Open resolves uri's scheme (file://, hdfs://, s3://, azblob://, or a bare
// path treated as local) and returns the matching backend plus the
// backend-relative path to operate on.
func Open(uri string) (FileSystem, string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return NewLocal(), uri, nil
	}
	switch u.Scheme {
	case "file":
		return NewLocal(), u.Path, nil
	case "hdfs":
		fs, err := NewHDFS(u.Host)
		if err != nil {
			return nil, "", errors.Wrap(err, "fsx: hdfs backend")
		}
		return fs, u.Path, nil
	case "s3":
		fs, err := NewS3(u.Host)
		if err != nil {
			return nil, "", errors.Wrap(err, "fsx: s3 backend")
		}
		return fs, strings.TrimPrefix(u.Path, "/"), nil
	case "azblob":
		fs, err := NewAzureBlob(u.Host)
		if err != nil {
			return nil, "", errors.Wrap(err, "fsx: azure backend")
		}
		return fs, strings.TrimPrefix(u.Path, "/"), nil
	default:
		return nil, "", errors.Errorf("fsx: unsupported scheme %q", u.Scheme)
	}
}
