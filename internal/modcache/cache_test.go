package modcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/convey/internal/errors"
)

type definition struct {
	source string
}

func countingLoader(count *atomic.Int32) LoaderFunc[*definition] {
	return func(ctx context.Context, path string) (*definition, error) {
		count.Add(1)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &definition{source: string(data)}, nil
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCache_LoadIsStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "IndexController.lua"), "v1")

	var loads atomic.Int32
	cache := New("controllers", ".lua", countingLoader(&loads))

	first, err := cache.Load(context.Background(), dir, "IndexController")
	require.NoError(t, err)
	second, err := cache.Load(context.Background(), dir, "IndexController")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), loads.Load())

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Loads)
}

func TestCache_InvalidateReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IndexController.lua")
	writeFile(t, path, "v1")

	var loads atomic.Int32
	cache := New("controllers", ".lua", countingLoader(&loads))

	first, err := cache.Load(context.Background(), dir, "IndexController")
	require.NoError(t, err)
	assert.Equal(t, "v1", first.source)

	writeFile(t, path, "v2")

	// Without an invalidation the stale definition is still served.
	stale, err := cache.Load(context.Background(), dir, "IndexController")
	require.NoError(t, err)
	assert.Equal(t, "v1", stale.source)

	assert.True(t, cache.Invalidate(path))
	assert.False(t, cache.Contains(path))

	fresh, err := cache.Load(context.Background(), dir, "IndexController")
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.source)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, int32(2), loads.Load())
	assert.Equal(t, int64(1), cache.Stats().Invalidations)

	// The caller holding the old definition keeps it.
	assert.Equal(t, "v1", first.source)
}

func TestCache_NotFound(t *testing.T) {
	var loads atomic.Int32
	cache := New("controllers", ".lua", countingLoader(&loads))

	_, err := cache.Load(context.Background(), t.TempDir(), "MissingController")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, int32(0), loads.Load())
}

func TestCache_PathStaysUnderDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "controllers")
	writeFile(t, filepath.Join(root, "uploads", "evilController.lua"), "outside")

	var loads atomic.Int32
	cache := New("controllers", ".lua", countingLoader(&loads))

	tests := []struct {
		name    string
		logical string
		ok      bool
	}{
		{"plain", "PostController", true},
		{"nested", "admin/UserController", true},
		{"leading slash", "/PostController", true},
		{"parent", "../uploads/evilController", false},
		{"deep parent", "a/../../uploads/evilController", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := cache.Path(dir, tt.logical)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(path, dir+string(filepath.Separator)), path)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
		})
	}

	_, err := cache.Load(context.Background(), dir, "../uploads/evilController")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, int32(0), loads.Load())
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestCache_InvalidateUnderAndReset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "One.lua"), "1")
	writeFile(t, filepath.Join(dir, "a", "Two.lua"), "2")
	writeFile(t, filepath.Join(dir, "b", "Three.lua"), "3")

	var loads atomic.Int32
	cache := New("models", ".lua", countingLoader(&loads))

	for _, name := range []string{"a/One", "a/Two", "b/Three"} {
		_, err := cache.Load(context.Background(), dir, name)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.InvalidateUnder(filepath.Join(dir, "a")))
	assert.Equal(t, 1, cache.Stats().Entries)
	assert.Equal(t, 1, cache.Reset())
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestCache_ConcurrentLoadOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "SlowController.lua"), "slow")

	var loads atomic.Int32
	slow := func(ctx context.Context, path string) (*definition, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &definition{source: "slow"}, nil
	}
	cache := New("controllers", ".lua", slow)

	const workers = 16
	results := make([]*definition, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			def, err := cache.Load(context.Background(), dir, "SlowController")
			assert.NoError(t, err)
			results[i] = def
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, def := range results {
		require.NotNil(t, def)
		assert.Same(t, results[0], def)
		assert.Equal(t, "slow", def.source)
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	hits        int
	misses      int
	invalidated int
}

func (r *recordingObserver) CacheHit(string)  { r.mu.Lock(); r.hits++; r.mu.Unlock() }
func (r *recordingObserver) CacheMiss(string) { r.mu.Lock(); r.misses++; r.mu.Unlock() }
func (r *recordingObserver) CacheInvalidated(_ string, n int) {
	r.mu.Lock()
	r.invalidated += n
	r.mu.Unlock()
}

func TestCache_Observer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "X.lua")
	writeFile(t, path, "x")

	var loads atomic.Int32
	cache := New("controllers", ".lua", countingLoader(&loads))
	obs := &recordingObserver{}
	cache.SetObserver(obs)

	_, _ = cache.Load(context.Background(), dir, "X")
	_, _ = cache.Load(context.Background(), dir, "X")
	cache.Invalidate(path)

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.invalidated)
}
