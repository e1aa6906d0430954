package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFilesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.libsvm"), []byte("1 1:1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.libsvm"), []byte("0 2:1\n"), 0o644))

	files, err := listFiles(context.Background(), dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.libsvm"),
		filepath.Join(dir, "b.libsvm"),
	}, files)
}

func TestListFilesSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.libsvm")
	require.NoError(t, os.WriteFile(path, []byte("1 1:1\n"), 0o644))

	files, err := listFiles(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestListFilesMissing(t *testing.T) {
	_, err := listFiles(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
