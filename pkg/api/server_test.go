package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/invalidation"
	"github.com/platinummonkey/rolesync/pkg/middleware"
	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/platinummonkey/rolesync/pkg/rbac"
	"github.com/platinummonkey/rolesync/pkg/rolecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ rolecache.MetricsRecorder    = (*observability.Metrics)(nil)
	_ middleware.ReconcileRecorder = (*observability.Metrics)(nil)
	_ rbac.Invalidator             = (*invalidation.Notifier)(nil)
	_ RoleService                  = (*rolecache.Service)(nil)
)

var testSecret = []byte("api-test-secret")

type testServer struct {
	server  *Server
	store   *rbac.Store
	cache   *rolecache.Service
	metrics *observability.Metrics
	clock   *clock.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := rbac.NewTestDB(t)
	rbac.SeedUser(t, db, "root", rbac.RoleAdmin)
	rbac.SeedUser(t, db, "u1", rbac.RoleEditor, rbac.RoleViewer)
	rbac.SeedRole(t, db, "auditor")
	store := rbac.NewStore(db)

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cfg := rolecache.DefaultConfig()
	cfg.Clock = clk
	cfg.Metrics = metrics
	cache, err := rolecache.New(store, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	validator, err := auth.NewJWTValidatorWithClock(testSecret, clk)
	require.NoError(t, err)

	server := NewServer(Dependencies{
		Roles:       cache,
		Writer:      store,
		Invalidator: invalidation.NewNotifier(cache, nil),
		Validator:   validator,
		Metrics:     metrics,
		Registry:    registry,
		Health:      observability.NewHealthChecker(db, nil, "test"),
	})

	return &testServer{server: server, store: store, cache: cache, metrics: metrics, clock: clk}
}

func (ts *testServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token, err := auth.SignToken(testSecret, auth.TokenClaims{
		Subject:   subject,
		Roles:     roles,
		IssuedAt:  ts.clock.Now(),
		ExpiresAt: ts.clock.Now().Add(24 * time.Hour),
		Extra:     map[string]any{"email": subject + "@example.com"},
	})
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func decodeMe(t *testing.T, w *httptest.ResponseRecorder) CurrentUserResponse {
	t.Helper()
	var resp CurrentUserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCurrentUser_RolesComeFromStore(t *testing.T) {
	ts := newTestServer(t)

	// the token claims admin, the store says editor and viewer
	w := ts.do(http.MethodGet, "/api/me", ts.token(t, "u1", rbac.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeMe(t, w)
	assert.Equal(t, "u1", resp.Subject)
	assert.Equal(t, []string{rbac.RoleEditor, rbac.RoleViewer}, resp.Roles)
	assert.Contains(t, resp.Claims, auth.Claim{Type: "email", Value: "u1@example.com"})
	for _, c := range resp.Claims {
		assert.NotEqual(t, auth.ClaimTypeRole, c.Type)
	}
}

func TestCurrentUser_UnknownUserHasNoRoles(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/me", ts.token(t, "ghost", rbac.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeMe(t, w).Roles)

	w = ts.do(http.MethodGet, "/admin/users/u1/roles", ts.token(t, "ghost", rbac.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCurrentUser_RequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired token")
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"editor", ts.token(t, "u1", rbac.RoleEditor), http.StatusForbidden},
		{"admin in token only", ts.token(t, "u1", rbac.RoleAdmin), http.StatusForbidden},
		{"admin in store", ts.token(t, "root"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodGet, "/admin/users/u1/roles", tt.token, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminRevoke_TakesEffectOnNextRequest(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "root")
	user := ts.token(t, "u1", rbac.RoleEditor)

	require.Equal(t, []string{rbac.RoleEditor, rbac.RoleViewer}, decodeMe(t, ts.do(http.MethodGet, "/api/me", user, nil)).Roles)
	_, cached := ts.cache.Peek("u1")
	require.True(t, cached)

	w := ts.do(http.MethodDelete, "/admin/users/u1/roles/editor", admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, cached = ts.cache.Peek("u1")
	assert.False(t, cached, "revoke must invalidate before responding")
	assert.Equal(t, []string{rbac.RoleViewer}, decodeMe(t, ts.do(http.MethodGet, "/api/me", user, nil)).Roles)

	w = ts.do(http.MethodPut, "/admin/users/u1/roles/auditor", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"auditor", rbac.RoleViewer}, decodeMe(t, ts.do(http.MethodGet, "/api/me", user, nil)).Roles)

	w = ts.do(http.MethodGet, "/admin/users/u1/roles", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed rbac.UserRolesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, []string{"auditor", rbac.RoleViewer}, listed.Roles)
}

func TestAdminAssign_WithExpiry(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "root")

	body := []byte(`{"expires_at":"2026-01-01T10:00:00Z"}`)
	w := ts.do(http.MethodPut, "/admin/users/u1/roles/auditor", admin, body)
	require.Equal(t, http.StatusOK, w.Code)

	var assigned rbac.UserRole
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assigned))
	require.NotNil(t, assigned.ExpiresAt)
	assert.True(t, assigned.ExpiresAt.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestAdminErrors(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "root")

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown role", http.MethodPut, "/admin/users/u1/roles/wizard", http.StatusNotFound},
		{"unknown user", http.MethodPut, "/admin/users/ghost/roles/editor", http.StatusNotFound},
		{"missing assignment", http.MethodDelete, "/admin/users/u1/roles/auditor", http.StatusNotFound},
		{"unknown user roles", http.MethodGet, "/admin/users/ghost/roles", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.method, tt.path, admin, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminInvalidate(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodGet, "/api/me", ts.token(t, "u1"), nil)
	_, cached := ts.cache.Peek("u1")
	require.True(t, cached)

	w := ts.do(http.MethodPost, "/admin/users/u1/roles/invalidate", ts.token(t, "root"), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, cached = ts.cache.Peek("u1")
	assert.False(t, cached)
}

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReconcileMetrics(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodGet, "/health/live", "", nil)
	ts.do(http.MethodGet, "/api/me", ts.token(t, "u1"), nil)
	ts.do(http.MethodGet, "/api/me", ts.token(t, "ghost"), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.ReconcileTotal.WithLabelValues(middleware.OutcomeReconciled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.ReconcileTotal.WithLabelValues(middleware.OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.ReconcileTotal.WithLabelValues(middleware.OutcomeSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/me", "200")))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter(t *testing.T) {
	ts := newTestServer(t)
	assert.NotNil(t, ts.server.Router())
}
