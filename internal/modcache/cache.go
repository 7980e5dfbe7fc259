// Package modcache caches loaded handler definitions by absolute source path.
//
// Entries are created lazily on first access and are only ever removed by
// explicit invalidation, which the file watcher drives. The cache performs no
// polling, no TTL expiry and no modification-time checks.
package modcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/convey/internal/errors"
)

// LoaderFunc reads and compiles the file at path into a definition. It is
// only called for paths that exist.
type LoaderFunc[T any] func(ctx context.Context, path string) (T, error)

// Cache maps absolute paths to loaded definitions.
type Cache[T any] struct {
	name    string
	ext     string
	loader  LoaderFunc[T]
	entries map[string]T
	mutex   sync.RWMutex
	group   singleflight.Group

	// generation is bumped by every invalidation so that a load which raced
	// with an invalidation does not repopulate a stale entry.
	generation atomic.Uint64

	hits          atomic.Int64
	misses        atomic.Int64
	loads         atomic.Int64
	invalidations atomic.Int64
	observer      Observer
}

// Observer receives cache events, typically metrics collectors.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheInvalidated(cache string, n int)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int
	Hits          int64
	Misses        int64
	Loads         int64
	Invalidations int64
}

// New creates a cache. ext is appended to logical names (".lua").
func New[T any](name, ext string, loader LoaderFunc[T]) *Cache[T] {
	return &Cache[T]{
		name:    name,
		ext:     ext,
		loader:  loader,
		entries: make(map[string]T),
	}
}

// SetObserver installs an observer for cache events.
func (c *Cache[T]) SetObserver(o Observer) {
	c.observer = o
}

// Name returns the cache name.
func (c *Cache[T]) Name() string {
	return c.name
}

// Path computes the absolute source path for logicalName under dir.
// Slash separated logical names are converted to the host separator. A name
// resolving outside dir yields an error matching errors.ErrNotFound.
func (c *Cache[T]) Path(dir, logicalName string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	name := filepath.FromSlash(strings.TrimPrefix(logicalName, "/"))
	path := filepath.Join(root, name+c.ext)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path, errors.NewNotFound(path).WithContext("dir", root)
	}
	return path, nil
}

// Load returns the definition for logicalName under dir, loading it on first
// access. A missing file yields an error matching errors.ErrNotFound.
func (c *Cache[T]) Load(ctx context.Context, dir, logicalName string) (T, error) {
	var zero T

	path, err := c.Path(dir, logicalName)
	if err != nil {
		return zero, fmt.Errorf("resolving %s: %w", logicalName, err)
	}

	if def, ok := c.lookup(path); ok {
		c.hits.Add(1)
		if c.observer != nil {
			c.observer.CacheHit(c.name)
		}
		return def, nil
	}

	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss(c.name)
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		if def, ok := c.lookup(path); ok {
			return def, nil
		}

		generation := c.generation.Load()

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return zero, errors.NewNotFound(path)
		}

		def, err := c.loader(ctx, path)
		if err != nil {
			return zero, err
		}
		c.loads.Add(1)

		c.mutex.Lock()
		if c.generation.Load() == generation {
			c.entries[path] = def
		}
		c.mutex.Unlock()

		return def, nil
	})
	if err != nil {
		return zero, err
	}

	def, _ := v.(T)
	return def, nil
}

func (c *Cache[T]) lookup(path string) (T, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	def, ok := c.entries[path]
	return def, ok
}

// Invalidate removes the entry for path. It reports whether an entry existed.
func (c *Cache[T]) Invalidate(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	c.mutex.Lock()
	c.generation.Add(1)
	_, ok := c.entries[abs]
	delete(c.entries, abs)
	c.mutex.Unlock()

	if ok {
		c.invalidated(1)
	}
	return ok
}

// InvalidateUnder removes every entry whose path lies inside dir.
func (c *Cache[T]) InvalidateUnder(dir string) int {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	prefix := abs + string(filepath.Separator)

	c.mutex.Lock()
	c.generation.Add(1)
	n := 0
	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
			n++
		}
	}
	c.mutex.Unlock()

	c.invalidated(n)
	return n
}

// Reset drops every entry.
func (c *Cache[T]) Reset() int {
	c.mutex.Lock()
	c.generation.Add(1)
	n := len(c.entries)
	c.entries = make(map[string]T)
	c.mutex.Unlock()

	c.invalidated(n)
	return n
}

func (c *Cache[T]) invalidated(n int) {
	if n == 0 {
		return
	}
	c.invalidations.Add(int64(n))
	if c.observer != nil {
		c.observer.CacheInvalidated(c.name, n)
	}
}

// Contains reports whether path is cached.
func (c *Cache[T]) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	_, ok := c.lookup(abs)
	return ok
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() Stats {
	c.mutex.RLock()
	entries := len(c.entries)
	c.mutex.RUnlock()

	return Stats{
		Entries:       entries,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Loads:         c.loads.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
