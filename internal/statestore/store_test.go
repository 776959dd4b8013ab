package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := Open(BackendFile, t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := Open(BackendSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fileStore.Close()
		_ = sqliteStore.Close()
	})
	return map[string]Store{BackendFile: fileStore, BackendSQLite: sqliteStore}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := Key("sessions", "abc", "metadata.json")

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			exists, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, store.Put(ctx, key, []byte(`{"title":"one"}`)))
			require.NoError(t, store.Put(ctx, key, []byte(`{"title":"two"}`)))

			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, `{"title":"two"}`, string(got))

			exists, err = store.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(ctx, key))
			require.NoError(t, store.Delete(ctx, key))

			exists, err = store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", `a\b`} {
				assert.Error(t, store.Put(ctx, key, []byte("x")), key)
				_, err := store.Get(ctx, key)
				assert.Error(t, err, key)
			}
		})
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(ctx, "k", []byte("v")), context.Canceled)
			_, err := store.Get(ctx, "k")
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestFileStoreIsFilesystemVisible(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	// The hosting platform writes records directly; the store must see them.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "registry"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "registry", "alice.json"), []byte(`{}`), 0o600))

	got, err := store.Get(context.Background(), "registry/alice.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	p, err := store.Path("registry/alice.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "registry", "alice.json"), p)
}

func TestFileStoreDirectoryIsNotAValue(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sessions"), 0o755))

	exists, err := store.Exists(context.Background(), "sessions")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state backend")
}

func TestNewFileStoreRequiresRoot(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}
