package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/source"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// Cache stores analysis tables per run and iteration.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	runID   string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithRunID tags written entries with the analysis run that produced them.
func WithRunID(id string) Option {
	return func(c *Cache) { c.runID = id }
}

// New creates a cache over backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{backend: backend, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunKey derives the cache namespace of a run location: the console
// fragment for console URLs, otherwise the location without its scheme.
func RunKey(base string) string {
	if prefix, ok := source.RunPrefix(base); ok {
		return prefix
	}
	base = source.OutputPath(base)
	if _, rest, ok := strings.Cut(base, "://"); ok {
		base = rest
	}
	return strings.Trim(base, "/")
}

// Key returns the entry key <run>/scripts_output/<iteration>.<name>.csv.gz.
func Key(run string, iteration int, name string) string {
	return path.Join(run, source.ScriptsOutputDir, fmt.Sprintf("%d.%s.csv.gz", iteration, name))
}

// Get returns a cached table, or a cache-miss error.
func (c *Cache) Get(ctx context.Context, run string, iteration int, name string) (*table.Table, error) {
	key := Key(run, iteration, name)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, bferrors.New(bferrors.CodeCacheMiss, "not cached").With("key", key)
		}
		return nil, err
	}
	t, err := table.Decode(name, data)
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeInvalidFormat, "decode cache entry").With("key", key)
	}
	return t, nil
}

// Put stores a table.
func (c *Cache) Put(ctx context.Context, run string, iteration int, name string, t *table.Table) error {
	data, err := t.Encode()
	if err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "encode table").With("name", name)
	}
	meta := map[string]string{"created": time.Now().UTC().Format(time.RFC3339)}
	if c.runID != "" {
		meta["run-id"] = c.runID
	}
	return c.backend.Put(ctx, Key(run, iteration, name), data, meta)
}

// GetOrCompute returns the cached table, computing and storing it when it
// is absent or force is set. hit reports whether the cache answered.
// A failed store is logged and does not fail the call.
func (c *Cache) GetOrCompute(ctx context.Context, run string, iteration int, name string, force bool,
	compute func(context.Context) (*table.Table, error)) (t *table.Table, hit bool, err error) {

	if !force {
		t, err = c.Get(ctx, run, iteration, name)
		switch {
		case err == nil:
			c.logger.Debug("cache hit", "backend", c.backend.Name(), "key", Key(run, iteration, name))
			return t, true, nil
		case !bferrors.IsCode(err, bferrors.CodeCacheMiss):
			c.logger.Warn("cache read failed", "backend", c.backend.Name(), "error", err)
		}
	}

	t, err = compute(ctx)
	if err != nil {
		return nil, false, err
	}
	t.Name = name
	if err := c.Put(ctx, run, iteration, name, t); err != nil {
		c.logger.Warn("cache write failed", "backend", c.backend.Name(), "error", err)
	}
	return t, false, nil
}

// Entry is one stored table.
type Entry struct {
	Key       string
	Iteration int
	Name      string
}

// Entries lists the tables stored for run.
func (c *Cache) Entries(ctx context.Context, run string) ([]Entry, error) {
	prefix := path.Join(run, source.ScriptsOutputDir) + "/"
	keys, err := c.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, k := range keys {
		base := strings.TrimSuffix(path.Base(k), ".csv.gz")
		if base == path.Base(k) {
			continue
		}
		it, name, ok := strings.Cut(base, ".")
		n, err := strconv.Atoi(it)
		if !ok || err != nil || name == "" {
			continue
		}
		entries = append(entries, Entry{Key: k, Iteration: n, Name: name})
	}
	return entries, nil
}

// Clear deletes the stored tables of run, only those of iteration when it
// is not negative. It returns the number of entries removed; a failed
// delete does not stop the others.
func (c *Cache) Clear(ctx context.Context, run string, iteration int) (int, error) {
	entries, err := c.Entries(ctx, run)
	if err != nil {
		return 0, err
	}
	var errs bferrors.MultiError
	n := 0
	for _, e := range entries {
		if iteration >= 0 && e.Iteration != iteration {
			continue
		}
		if err := c.backend.Delete(ctx, e.Key); err != nil {
			errs.Add(bferrors.Wrap(err, bferrors.CodeWriteFailed, "delete cache entry").With("key", e.Key))
			continue
		}
		n++
	}
	c.logger.Info("cache cleared", "backend", c.backend.Name(), "run", run, "entries", n)
	if errs.HasErrors() {
		c.logger.Warn("cache entries left behind", "backend", c.backend.Name(), "run", run, "failed", len(errs.Errors))
	}
	return n, errs.Combined()
}
