package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	"github.com/aiidateam/renku2-aiida-integration/internal/fsx"
)

var _ Store = (*FileStore)(nil)

// FileStore maps keys to files below a root directory. Other processes, such
// as the hosting platform, can read and write the same files directly.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid state directory: %w", err)
	}
	if err := os.MkdirAll(absRoot, constants.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{root: absRoot}, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to the store root by ValidateKey.
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), constants.DirPermissions); err != nil {
		return fmt.Errorf("create state dir for %s: %w", key, err)
	}
	if err := fsx.WriteFileAtomic(p, value, constants.FilePermissions); err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.Path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat state %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
