// Package fsx writes files so that readers never observe partial content.
package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteFileExclusive when the destination is already present.
var ErrExists = errors.New("destination already exists")

// WriteFileAtomic replaces path with content via a synced temp file and rename.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	tempPath, err := writeTemp(path, content, mode)
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// WriteFileExclusive creates path with content only if nothing exists there yet.
// The content becomes visible in one step; a concurrent creator wins cleanly.
func WriteFileExclusive(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Lstat(path); err == nil {
		return ErrExists
	}
	tempPath, err := writeTemp(path, content, mode)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tempPath) }()

	if err := os.Link(tempPath, path); err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("link temp file: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// Exists reports whether anything is present at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func writeTemp(path string, content []byte, mode os.FileMode) (string, error) {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	fail := func(format string, err error) (string, error) {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf(format, err)
	}

	if _, err := tempFile.Write(content); err != nil {
		return fail("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fail("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fail("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tempPath, nil
}

func syncDir(dir string) {
	// #nosec G304 -- directory derived from the caller's destination path.
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}
