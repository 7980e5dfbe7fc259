// Package metrics exposes dispatch and cache activity as Prometheus
// collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace prefixes every metric name (default "convey").
	Namespace string
	Buckets   []float64
	// Registry defaults to a fresh registry so that reloads and tests never
	// collide on the global one.
	Registry *prometheus.Registry
}

// Collector implements dispatcher.Recorder and modcache.Observer.
type Collector struct {
	registry *prometheus.Registry

	dispatches    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	reloads       *prometheus.CounterVec
	liveClients   prometheus.Gauge
}

// New registers the collectors.
func New(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "convey"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,

		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatches_total",
			Help:      "Dispatched requests by controller, action and status",
		}, []string{"controller", "action", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"controller"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatch_errors_total",
			Help:      "Published dispatch errors by kind",
		}, []string{"kind"}),

		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Module cache hits",
		}, []string{"cache"}),

		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Module cache misses",
		}, []string{"cache"}),

		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Module cache entries removed",
		}, []string{"cache"}),

		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "reloads_total",
			Help:      "Full application reloads by result",
		}, []string{"result"}),

		liveClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "livereload",
			Name:      "clients",
			Help:      "Connected live reload clients",
		}),
	}
}

// Unmatched labels a dispatch whose controller or action was not found.
const Unmatched = "unmatched"

// ObserveDispatch records one finished dispatch. controller and action must
// be resolved handler names; empty values are recorded as Unmatched.
func (c *Collector) ObserveDispatch(controller, action string, status int, elapsed time.Duration) {
	if controller == "" {
		controller = Unmatched
	}
	if action == "" {
		action = Unmatched
	}
	c.dispatches.WithLabelValues(controller, action, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(controller).Observe(elapsed.Seconds())
}

// ObserveError records a published error.
func (c *Collector) ObserveError(kind string) {
	c.errors.WithLabelValues(kind).Inc()
}

func (c *Collector) CacheHit(cache string)  { c.cacheHits.WithLabelValues(cache).Inc() }
func (c *Collector) CacheMiss(cache string) { c.cacheMisses.WithLabelValues(cache).Inc() }

func (c *Collector) CacheInvalidated(cache string, n int) {
	c.invalidations.WithLabelValues(cache).Add(float64(n))
}

// ObserveReload records a full reload.
func (c *Collector) ObserveReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.reloads.WithLabelValues(result).Inc()
}

// ClientConnected and ClientDisconnected track live reload sockets.
func (c *Collector) ClientConnected()    { c.liveClients.Inc() }
func (c *Collector) ClientDisconnected() { c.liveClients.Dec() }

// Registry returns the registry the collectors are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
