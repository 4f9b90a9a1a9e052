package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rolesync"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Role cache metrics
	RoleCacheHitsTotal          prometheus.Counter
	RoleCacheMissesTotal        prometheus.Counter
	RoleLoadsTotal              *prometheus.CounterVec
	RoleLoadDuration            *prometheus.HistogramVec
	RoleSharedWaitsTotal        prometheus.Counter
	RoleCacheEvictionsTotal     *prometheus.CounterVec
	RoleCacheInvalidationsTotal *prometheus.CounterVec
	RoleCacheEntries            prometheus.Gauge

	// Reconciliation metrics
	ReconcileTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		RoleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_cache_hits_total",
				Help:      "Role lookups answered from a fresh cache entry",
			},
		),
		RoleCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_cache_misses_total",
				Help:      "Role lookups that needed a store load",
			},
		),
		RoleLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_loads_total",
				Help:      "Role store loads by outcome",
			},
			[]string{"outcome"},
		),
		RoleLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "role_load_duration_seconds",
				Help:      "Role store load duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"outcome"},
		),
		RoleSharedWaitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_shared_waits_total",
				Help:      "Role lookups that joined a load already in flight",
			},
		),
		RoleCacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_cache_evictions_total",
				Help:      "Role cache entries removed without an invalidation",
			},
			[]string{"reason"},
		),
		RoleCacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_cache_invalidations_total",
				Help:      "Role cache invalidations by scope",
			},
			[]string{"scope"},
		),
		RoleCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "role_cache_entries",
				Help:      "Number of users currently cached",
			},
		),

		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_reconcile_total",
				Help:      "Claims reconciliation results by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.RoleCacheHitsTotal,
		m.RoleCacheMissesTotal,
		m.RoleLoadsTotal,
		m.RoleLoadDuration,
		m.RoleSharedWaitsTotal,
		m.RoleCacheEvictionsTotal,
		m.RoleCacheInvalidationsTotal,
		m.RoleCacheEntries,
		m.ReconcileTotal,
	)

	return m
}

// RegisterDBStats exports the connection pool statistics of db
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// RecordRoleCacheHit counts a lookup served from cache
func (m *Metrics) RecordRoleCacheHit() {
	m.RoleCacheHitsTotal.Inc()
}

// RecordRoleCacheMiss counts a lookup that required a load
func (m *Metrics) RecordRoleCacheMiss() {
	m.RoleCacheMissesTotal.Inc()
}

// RecordRoleLoad records one store load
func (m *Metrics) RecordRoleLoad(outcome string, duration time.Duration) {
	m.RoleLoadsTotal.WithLabelValues(outcome).Inc()
	m.RoleLoadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRoleSharedWait counts a lookup that joined an in-flight load
func (m *Metrics) RecordRoleSharedWait() {
	m.RoleSharedWaitsTotal.Inc()
}

// RecordRoleEviction counts a removed entry
func (m *Metrics) RecordRoleEviction(reason string) {
	m.RoleCacheEvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordRoleInvalidation counts an invalidation of one user or of everyone
func (m *Metrics) RecordRoleInvalidation(scope string) {
	m.RoleCacheInvalidationsTotal.WithLabelValues(scope).Inc()
}

// SetRoleCacheEntries sets the cached user gauge
func (m *Metrics) SetRoleCacheEntries(n int) {
	m.RoleCacheEntries.Set(float64(n))
}

// RecordReconcile counts a claims reconciliation outcome
func (m *Metrics) RecordReconcile(outcome string) {
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched mux route template so path parameters do
// not inflate label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Mount it with router.Use so the route template is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
