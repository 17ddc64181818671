// Package cache stores computed analysis tables next to run outputs so
// repeated analyses can skip the events file.
package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// Backend stores opaque blobs by key. Get returns an error satisfying
// errors.Is(err, os.ErrNotExist) for absent keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, meta map[string]string) error
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Name() string
}

// LocalBackend keeps entries as files under a directory.
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates a backend rooted at dir.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeWriteFailed, "create cache dir").With("dir", dir)
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.dir, filepath.FromSlash(key))
}

// Get reads an entry.
func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, bferrors.Wrap(err, bferrors.CodeReadFailed, "read cache entry").With("key", key)
	}
	return data, nil
}

// Put writes an entry atomically. Metadata is not kept locally.
func (b *LocalBackend) Put(_ context.Context, key string, data []byte, _ map[string]string) error {
	path := b.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "create cache dir").With("key", key)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write cache entry").With("key", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "rename cache entry").With("key", key)
	}
	return nil
}

// Delete removes an entry. Missing entries are not an error.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the directory of prefix.
func (b *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	root := b.dir
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		root = b.path(prefix[:i])
	}
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeReadFailed, "list cache dir").With("prefix", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

// MultiBackend writes through to a primary and a secondary backend.
type MultiBackend struct {
	primary   Backend
	secondary Backend
}

// NewMultiBackend creates a backend that writes to both primary and secondary.
func NewMultiBackend(primary, secondary Backend) *MultiBackend {
	return &MultiBackend{primary: primary, secondary: secondary}
}

// Get reads from primary and falls back to secondary, refilling primary
// on a secondary hit.
func (m *MultiBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.primary.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	data, err = m.secondary.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = m.primary.Put(ctx, key, data, nil)
	return data, nil
}

// Put writes to both backends (primary first).
func (m *MultiBackend) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	if err := m.primary.Put(ctx, key, data, meta); err != nil {
		return err
	}
	// secondary is best-effort
	_ = m.secondary.Put(ctx, key, data, meta)
	return nil
}

// Delete removes from both backends.
func (m *MultiBackend) Delete(ctx context.Context, key string) error {
	err1 := m.primary.Delete(ctx, key)
	err2 := m.secondary.Delete(ctx, key)
	if err1 != nil {
		return err1
	}
	return err2
}

// List merges the keys of both backends.
func (m *MultiBackend) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, b := range []Backend{m.primary, m.secondary} {
		keys, err := b.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}
