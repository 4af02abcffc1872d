// Package blob provides the filesystem-backed byte store for uploaded
// images. Files live flat under a single root directory keyed by their
// generated filename, which lets the HTTP layer serve them statically.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gallerybox/gallerybox/internal/domain"
)

// FSStore implements domain.BlobStore on a local directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store
// rooted at it.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the directory files are stored under.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) Save(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) Open(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every regular file under the root. Subdirectories are
// left alone; an absent root counts as already empty.
func (s *FSStore) DeleteAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read blob root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("delete blob %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return true, nil
}

// path validates that the key resolves to a file directly under the root.
// Keys are generated opaque filenames, so anything with a separator or a
// dot-prefix is a caller bug or an attempted traversal.
func (s *FSStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: bad blob key %q", domain.ErrInvalidInput, key)
	}
	return filepath.Join(s.root, key), nil
}
