package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// currentFile is the name of the catalog pointer file inside the root
// directory of a LocalStore.
const currentFile = "CURRENT"

// LocalStore is a Store backed by a directory on the local filesystem.
// It also implements Catalog using a CURRENT pointer file, which makes
// it a complete archive target for single-host deployments.
type LocalStore struct {
	root string
}

var (
	_ Store   = (*LocalStore)(nil)
	_ Catalog = (*LocalStore)(nil)
)

// NewLocalStore creates a LocalStore rooted at dir, creating the
// directory if it does not exist.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blobstore root: %w", err)
	}

	return &LocalStore{root: dir}, nil
}

func (l *LocalStore) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// Put writes data to a temp file and renames it into place, so readers
// never observe a partially written blob.
func (l *LocalStore) Put(_ context.Context, name string, data []byte) error {
	dst := l.path(name)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp := dst + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("write blob %q: %w", name, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("sync blob %q: %w", name, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("close blob %q: %w", name, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("rename blob %q: %w", name, err)
	}

	return nil
}

// Get reads the blob stored under name.
func (l *LocalStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}

	return data, nil
}

// List walks the store directory and returns all blob names starting
// with prefix, sorted lexicographically. Temp files and the CURRENT
// pointer are excluded.
func (l *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if name == currentFile || strings.HasSuffix(name, ".tmp") {
			return nil
		}

		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	sort.Strings(names)

	return names, nil
}

// Delete removes the blob stored under name. A missing blob is not an
// error.
func (l *LocalStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(l.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %q: %w", name, err)
	}

	return nil
}

// Latest returns the name recorded in the CURRENT pointer file, or the
// empty string if no commit has happened yet.
func (l *LocalStore) Latest(_ context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.root, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("read catalog pointer: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Commit atomically replaces the CURRENT pointer file with name.
func (l *LocalStore) Commit(_ context.Context, name string) error {
	dst := filepath.Join(l.root, currentFile)
	tmp := dst + ".tmp"

	if err := os.WriteFile(tmp, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("write catalog pointer: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("rename catalog pointer: %w", err)
	}

	return nil
}
