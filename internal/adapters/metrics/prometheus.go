// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	queryCounter        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	cacheLookups        *prometheus.CounterVec
	cacheEvictions      prometheus.Counter
	chunksResident      prometheus.Gauge
	chunkFetches        *prometheus.CounterVec
	missingChunks       prometheus.Counter
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewCollector creates a Prometheus metrics collector registered with reg,
// or with the default registry when reg is nil.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = "bradar"
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Collector{
		gatherer: gatherer,

		queryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of radius queries",
			},
			[]string{"mode", "status"},
		),

		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Radius query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Chunk residency checks by result",
			},
			[]string{"result"},
		),

		cacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Chunks evicted from the cache",
			},
		),

		chunksResident: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "chunks_resident",
				Help:      "Decoded chunks held in memory",
			},
		),

		chunkFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "fetches_total",
				Help:      "Chunk fetch batches sent to the store",
			},
			[]string{"status"},
		),

		missingChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "missing_chunks_total",
				Help:      "Requested chunks absent from the store",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of persistence operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Persistence operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncQueryCount increments the query counter.
func (c *Collector) IncQueryCount(mode string, success bool) {
	c.queryCounter.WithLabelValues(mode, status(success)).Inc()
}

// ObserveQueryDuration records query duration.
func (c *Collector) ObserveQueryDuration(mode string, duration time.Duration) {
	c.queryDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncCacheLookups counts chunk residency checks.
func (c *Collector) IncCacheLookups(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// IncCacheEvictions counts evicted chunks.
func (c *Collector) IncCacheEvictions(count int) {
	c.cacheEvictions.Add(float64(count))
}

// SetChunksResident sets the number of resident chunks.
func (c *Collector) SetChunksResident(count int) {
	c.chunksResident.Set(float64(count))
}

// IncChunkFetches counts fetch batches.
func (c *Collector) IncChunkFetches(success bool) {
	c.chunkFetches.WithLabelValues(status(success)).Inc()
}

// IncMissingChunks counts chunks the store did not have.
func (c *Collector) IncMissingChunks(count int) {
	c.missingChunks.Add(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		c.IncHTTPRequests(r.Method, path, statusToString(wrapped.statusCode))
		c.ObserveHTTPDuration(r.Method, path, time.Since(start))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// knownPaths are reported as-is; everything else collapses into "other".
var knownPaths = map[string]bool{
	"/":               true,
	"/health":         true,
	"/health/live":    true,
	"/health/ready":   true,
	"/metrics":        true,
	"/openapi.json":   true,
	"/api/v1/query":   true,
	"/api/v1/dataset": true,
	"/api/v1/cache":   true,
	"/api/v1/reload":  true,
}

// normalizePath bounds the label cardinality of request paths.
func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	if knownPaths[path] {
		return path
	}
	return "other"
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var _ output.MetricsCollector = (*Collector)(nil)
