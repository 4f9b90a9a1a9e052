package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("middleware-test-secret")

func newTestValidator(t *testing.T) (*auth.JWTValidator, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	v, err := auth.NewJWTValidatorWithClock(testSecret, clk)
	require.NoError(t, err)
	return v, clk
}

func signToken(t *testing.T, clk clock.Clock, subject string, roles ...string) string {
	t.Helper()
	token, err := auth.SignToken(testSecret, auth.TokenClaims{
		Subject:   subject,
		Roles:     roles,
		IssuedAt:  clk.Now(),
		ExpiresAt: clk.Now().Add(time.Hour),
		Extra:     map[string]any{"name": subject + " example"},
	})
	require.NoError(t, err)
	return token
}

func TestNewAuthMiddleware(t *testing.T) {
	v, _ := newTestValidator(t)

	m := NewAuthMiddleware(v, false)
	require.NotNil(t, m)
	assert.Same(t, v, m.validator)
	assert.False(t, m.optional)

	assert.True(t, NewAuthMiddleware(v, true).optional)
}

func TestAuthMiddleware_Handler(t *testing.T) {
	v, clk := newTestValidator(t)

	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantBody   string
		wantCalled bool
	}{
		{
			name:       "missing header when required",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"missing authorization header"}`,
		},
		{
			name:       "missing header when optional",
			optional:   true,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "wrong scheme",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"invalid authorization header format"}`,
		},
		{
			name:       "scheme without token",
			header:     "Bearer ",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"invalid authorization header format"}`,
		},
		{
			name:       "garbage token",
			header:     "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"invalid or expired token"}`,
		},
		{
			name:       "garbage token is rejected even when optional",
			optional:   true,
			header:     "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"invalid or expired token"}`,
		},
		{
			name:       "valid token",
			header:     "Bearer " + signToken(t, clk, "u1", "editor"),
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewAuthMiddleware(v, tt.optional).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, called)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAuthMiddleware_StoresPrincipal(t *testing.T) {
	v, clk := newTestValidator(t)

	var got auth.Principal
	handler := NewAuthMiddleware(v, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "bearer "+signToken(t, clk, "u1", "editor", "viewer"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "u1", got.Subject())
	assert.ElementsMatch(t, []string{"editor", "viewer"}, got.Roles())
	name, ok := got.FindFirst("name")
	assert.True(t, ok)
	assert.Equal(t, "u1 example", name)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	v, clk := newTestValidator(t)
	token := signToken(t, clk, "u1", "editor")
	clk.Add(time.Hour)

	handler := NewAuthMiddleware(v, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
