// Package statestore holds bootstrap state shared across process invocations:
// session records, the per-session metadata cache and the conflict notice.
//
// Values are opaque bytes. Readers must tolerate stale or missing entries; the
// store only guarantees that a Put is never observed half-written.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("state key not found")

// Store is a key-value view over shared bootstrap state.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Exists reports whether a value is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Key joins parts into a slash-separated store key.
func Key(parts ...string) string {
	return path.Join(parts...)
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("state key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("state key %q must be relative", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("state key %q is not clean", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("state key %q must not contain dot segments", key)
		}
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		store, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := OpenSQLite(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported state backend %q (want %s or %s)", backend, BackendFile, BackendSQLite)
	}
}
