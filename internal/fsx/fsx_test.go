package fsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFileAtomic(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}

func TestWriteFileAtomicMissingParent(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "a.json"), []byte("{}"), 0o644)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp file")
}

func TestWriteFileExclusiveNeverClobbers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explore.ipynb")

	require.NoError(t, WriteFileExclusive(path, []byte("rendered"), 0o644))
	assert.True(t, Exists(path))

	err := WriteFileExclusive(path, []byte("again"), 0o644)
	assert.ErrorIs(t, err, ErrExists)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
