// Package observability exposes the engine's Prometheus metrics: HTTP
// traffic, cache effectiveness, and lineage compute cost.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's Prometheus metrics. Each collector owns its
// registry, so tests and embedded uses never fight over global registration.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Engine metrics
	LineageComputeDuration prometheus.Histogram
	ArtifactReloads        prometheus.Counter
}

// NewCollector creates a collector with all metrics registered under the
// given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	cacheEvictions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted by invalidation",
		},
	)

	lineageComputeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lineage_compute_duration_seconds",
			Help:      "Time spent computing lineage views on cache misses",
			Buckets:   prometheus.DefBuckets,
		},
	)

	artifactReloads := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_reloads_total",
			Help:      "Total number of artifact bundle reloads (watcher or cache-admin)",
		},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		cacheHits,
		cacheMisses,
		cacheEvictions,
		lineageComputeDuration,
		artifactReloads,
	)

	return &Collector{
		registry:               registry,
		HTTPRequests:           httpRequests,
		HTTPDuration:           httpDuration,
		CacheHits:              cacheHits,
		CacheMisses:            cacheMisses,
		CacheEvictions:         cacheEvictions,
		LineageComputeDuration: lineageComputeDuration,
		ArtifactReloads:        artifactReloads,
	}
}

// ObserveRequest records one served request.
func (c *Collector) ObserveRequest(method, route string, status string, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func (c *Collector) ObserveCacheLookup(hit bool) {
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the underlying registry for embedding uses.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
