// Package fsblob implements storage.BlobStore on the local filesystem, one
// file per (container, path). It is built on the standard library only:
// none of the examples pull in an object-storage client for local-disk use
// (the S3 SDK exists for the cloud-backed variant, not for this one), and
// os/io's file operations are already the idiomatic way the ecosystem
// expresses "write bytes under a directory" -- wrapping them behind a
// third-party library would add a dependency with nothing left for it to
// do.
package fsblob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/golem-go/golem/pkg/storage"
)

// Store roots every blob under a base directory, namespaced by container.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) resolve(container, path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.Clean("/"+container), filepath.Clean("/"+path))
	root := filepath.Clean(s.baseDir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errors.New("fsblob: path escapes base directory")
	}
	return full, nil
}

func (s *Store) Put(_ context.Context, container, path string, data []byte) error {
	full, err := s.resolve(container, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *Store) Get(_ context.Context, container, path string) ([]byte, error) {
	full, err := s.resolve(container, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	return data, err
}

func (s *Store) Delete(_ context.Context, container, path string) error {
	full, err := s.resolve(container, path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) Exists(_ context.Context, container, path string) (bool, error) {
	full, err := s.resolve(container, path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// List returns every path stored under container, relative to it, walking
// the container's directory tree since fsblob has no separate index.
func (s *Store) List(_ context.Context, container string) ([]string, error) {
	root, err := s.resolve(container, "")
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *Store) Close() error { return nil }

var _ storage.BlobStore = (*Store)(nil)
