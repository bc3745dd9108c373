// Package disk stores blobs as files below a root directory. Writes go
// through a temp file and rename so readers never observe partial objects.
package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pkt.systems/ledgerd/internal/blob"
)

// Config configures the disk backend.
type Config struct {
	Root string
}

// Store implements blob.Backend on the local filesystem.
type Store struct {
	root   string
	tmpDir string
}

// New prepares the directory layout under cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("disk: root directory required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("disk: resolve root: %w", err)
	}
	objects := filepath.Join(root, "objects")
	tmp := filepath.Join(root, "tmp")
	for _, dir := range []string{objects, tmp} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("disk: prepare %s: %w", dir, err)
		}
	}
	return &Store{root: objects, tmpDir: tmp}, nil
}

func (s *Store) objectPath(key string) (string, error) {
	clean, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes data atomically under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ blob.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("disk: prepare object directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.tmpDir, "object-*")
	if err != nil {
		return fmt.Errorf("disk: create temp object for %q: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: write object %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: sync object %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: close object %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("disk: rename object %q: %w", key, err)
	}
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	target, err := s.objectPath(key)
	if err != nil {
		return blob.Object{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blob.Object{}, blob.ErrNotFound
		}
		return blob.Object{}, fmt.Errorf("disk: stat object %q: %w", key, err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blob.Object{}, blob.ErrNotFound
		}
		return blob.Object{}, fmt.Errorf("disk: read object %q: %w", key, err)
	}
	return blob.Object{Data: data, ModTime: info.ModTime().UTC()}, nil
}

// Delete removes the object stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("disk: delete object %q: %w", key, err)
	}
	return nil
}

// Close satisfies blob.Backend.
func (s *Store) Close() error { return nil }
