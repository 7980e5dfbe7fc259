package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/livereload"
)

func testConfig(t *testing.T, set map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("paths.root", t.TempDir())
	v.Set("server.host", "127.0.0.1")
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

func dispatchEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "dispatched %s %s", r.Method, r.URL.Path)
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDispatchCatchAll(t *testing.T) {
	s := New(Options{Config: testConfig(t, nil), Dispatch: dispatchEcho()})

	for _, path := range []string{"/", "/post/show/id/7", "/a-b/c"} {
		rec := get(t, s.Handler(), path)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dispatched GET "+path, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/post/save", nil))
	assert.Equal(t, "dispatched POST /post/save", rec.Body.String())
}

func TestStaticPrefixes(t *testing.T) {
	cfg := testConfig(t, nil)
	public := cfg.Resolve("public")
	require.NoError(t, os.MkdirAll(filepath.Join(public, "css", "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(public, "css", "site.css"), []byte("body{}"), 0o644))

	s := New(Options{Config: cfg, Dispatch: dispatchEcho()})

	rec := get(t, s.Handler(), "/public/css/site.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = get(t, s.Handler(), "/public/css/missing.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, s.Handler(), "/public/css/empty/")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, s.Handler(), "/publications")
	assert.Equal(t, "dispatched GET /publications", rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := New(Options{Config: testConfig(t, nil), Dispatch: dispatchEcho()})

	rec := get(t, s.Handler(), HealthPath)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Version)
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "convey_dispatches_total 1")
	})

	s := New(Options{Config: testConfig(t, nil), Dispatch: dispatchEcho(), Metrics: metrics})
	assert.Equal(t, "convey_dispatches_total 1", get(t, s.Handler(), "/metrics").Body.String())

	off := New(Options{
		Config:   testConfig(t, map[string]any{"server.metrics_path": ""}),
		Dispatch: dispatchEcho(),
		Metrics:  metrics,
	})
	assert.Equal(t, "dispatched GET /metrics", get(t, off.Handler(), "/metrics").Body.String())
}

func TestLiveReloadMount(t *testing.T) {
	hub := livereload.NewHub(nil, nil)
	s := New(Options{Config: testConfig(t, nil), Dispatch: dispatchEcho(), LiveReload: hub})

	rec := get(t, s.Handler(), livereload.ScriptPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), livereload.SocketPath)

	// No Origin header.
	rec = get(t, s.Handler(), livereload.SocketPath)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	without := New(Options{Config: testConfig(t, nil), Dispatch: dispatchEcho()})
	assert.Equal(t, "dispatched GET "+livereload.ScriptPath, get(t, without.Handler(), livereload.ScriptPath).Body.String())
}

func TestStartShutdown(t *testing.T) {
	s := New(Options{Config: testConfig(t, map[string]any{"server.port": 0}), Dispatch: dispatchEcho()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/hello")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "dispatched GET /hello"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.True(t, s.IsShutdown())
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, s.Start(context.Background()))
}

func TestNewPanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { New(Options{Dispatch: dispatchEcho()}) })
	assert.Panics(t, func() { New(Options{Config: testConfig(t, nil)}) })
}
