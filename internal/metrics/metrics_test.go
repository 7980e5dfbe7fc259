package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	c := New(Config{})

	c.ObserveDispatch("post", "show", 200, 10*time.Millisecond)
	c.ObserveDispatch("post", "show", 200, 20*time.Millisecond)
	c.ObserveDispatch("", "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.dispatches.WithLabelValues("post", "show", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatches.WithLabelValues(Unmatched, Unmatched, "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
}

func TestObserveDispatchUnmatchedIsOneSeries(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 500; i++ {
		c.ObserveDispatch("", "", 404, time.Millisecond)
	}
	c.ObserveDispatch("IndexController", "", 404, time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(c.dispatches))
	assert.Equal(t, 500.0, testutil.ToFloat64(c.dispatches.WithLabelValues(Unmatched, Unmatched, "404")))
}

func TestObserveError(t *testing.T) {
	c := New(Config{})
	c.ObserveError("controller_not_found")
	c.ObserveError("controller_not_found")
	c.ObserveError("internal")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.errors.WithLabelValues("controller_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("internal")))
}

func TestCacheObserver(t *testing.T) {
	c := New(Config{})
	c.CacheHit("controllers")
	c.CacheHit("controllers")
	c.CacheMiss("controllers")
	c.CacheInvalidated("templates", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("controllers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("controllers")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.invalidations.WithLabelValues("templates")))
}

func TestReloadsAndClients(t *testing.T) {
	c := New(Config{})
	c.ObserveReload(nil)
	c.ObserveReload(errors.New("bad routes"))
	c.ClientConnected()
	c.ClientConnected()
	c.ClientDisconnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.liveClients))
}

func TestSeparateRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	a := New(Config{})
	b := New(Config{})
	a.ObserveError("internal")

	assert.Equal(t, 0.0, testutil.ToFloat64(b.errors.WithLabelValues("internal")))
}

func TestHandler(t *testing.T) {
	c := New(Config{Namespace: "app"})
	c.ObserveDispatch("index", "index", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `app_dispatches_total{action="index",controller="index",status="200"} 1`)
}
