package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	// registering the same collectors twice must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_RoleCache(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordRoleCacheHit()
	metrics.RecordRoleCacheHit()
	metrics.RecordRoleCacheMiss()
	metrics.RecordRoleLoad("success", 20*time.Millisecond)
	metrics.RecordRoleLoad("unavailable", 2*time.Second)
	metrics.RecordRoleLoad("success", 10*time.Millisecond)
	metrics.RecordRoleSharedWait()
	metrics.RecordRoleEviction("expired")
	metrics.RecordRoleEviction("capacity")
	metrics.RecordRoleEviction("expired")
	metrics.RecordRoleInvalidation("user")
	metrics.SetRoleCacheEntries(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RoleCacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoleCacheMissesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RoleLoadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoleLoadsTotal.WithLabelValues("unavailable")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.RoleLoadDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoleSharedWaitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RoleCacheEvictionsTotal.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoleCacheEvictionsTotal.WithLabelValues("capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoleCacheInvalidationsTotal.WithLabelValues("user")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.RoleCacheEntries))
}

func TestMetrics_Reconcile(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordReconcile("reconciled")
	metrics.RecordReconcile("reconciled")
	metrics.RecordReconcile("unavailable")

	expected := `
# HELP rolesync_claims_reconcile_total Claims reconciliation results by outcome
# TYPE rolesync_claims_reconcile_total counter
rolesync_claims_reconcile_total{outcome="reconciled"} 2
rolesync_claims_reconcile_total{outcome="unavailable"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(metrics.ReconcileTotal, strings.NewReader(expected)))
}

func TestMetrics_RegisterDBStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.RegisterDBStats(db, "roles"))
	assert.Error(t, metrics.RegisterDBStats(db, "roles"), "duplicate collector")

	families, err := registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_open_connections")
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("short and stout"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, 15, n)
	assert.Equal(t, 15, rw.bytesWritten)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("labels by route template", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		router := mux.NewRouter()
		router.Use(HTTPMetricsMiddleware(metrics))
		router.HandleFunc("/admin/users/{id}/roles", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		for _, id := range []string{"u1", "u2", "u3"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/"+id+"/roles", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		expected := `
# HELP rolesync_http_requests_total Total number of HTTP requests
# TYPE rolesync_http_requests_total counter
rolesync_http_requests_total{method="GET",route="/admin/users/{id}/roles",status="200"} 3
`
		assert.NoError(t, testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)))
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.HTTPResponseSize))
	})

	t.Run("records status codes", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/anything", nil))

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "503")))
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.SetRoleCacheEntries(42)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rolesync_role_cache_entries 42")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
