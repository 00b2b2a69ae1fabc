package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore persists blob content under a single root directory. Callers only
// ever see paths relative to that root, so stored references stay safe to
// join onto a public base URL.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed and returns a store.
func NewDiskStore(root string) (*DiskStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root directory must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Root returns the absolute root directory of the store.
func (s *DiskStore) Root() string {
	return s.root
}

// Write stores data under the given name and returns the path relative to
// the store root. The name must be a bare filename: anything that could
// traverse outside the root is rejected before any I/O.
func (s *DiskStore) Write(name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	full := filepath.Join(s.root, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}

	// The row referencing this file is only inserted after the bytes are
	// durable, so sync before reporting success.
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("storage: sync %s: %w", name, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}

	return name, nil
}

// Remove deletes a previously written file by its relative path. Removing a
// file that is already gone is not an error.
func (s *DiskStore) Remove(relPath string) error {
	if err := validateName(relPath); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.root, relPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", relPath, err)
	}
	return nil
}

// Path resolves a relative reference to the absolute on-disk location.
func (s *DiskStore) Path(relPath string) (string, error) {
	if err := validateName(relPath); err != nil {
		return "", err
	}
	return filepath.Join(s.root, relPath), nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("storage: empty file name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("storage: unsafe file name %q", name)
	}
	return nil
}
