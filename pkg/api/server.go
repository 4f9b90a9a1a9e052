package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/rolesync/pkg/httputil"
	"github.com/platinummonkey/rolesync/pkg/middleware"
	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/platinummonkey/rolesync/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RoleService is the role cache as seen by the HTTP layer.
// *rolecache.Service implements it.
type RoleService interface {
	middleware.RoleGetter
}

// Dependencies are the collaborators a Server is built from. Roles,
// Writer, Invalidator and Validator are required.
type Dependencies struct {
	Roles       RoleService
	Writer      rbac.RoleWriter
	Invalidator rbac.Invalidator
	Validator   middleware.TokenValidator

	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry
	Health      *observability.HealthChecker
	CORSOrigins []string
}

// maxRequestBody bounds admin request bodies
const maxRequestBody = 1 << 20

// Server is the rolesync HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and the middleware chain. Every request passes
// request id, logging, recovery, CORS, bearer authentication and claims
// reconciliation in that order, so authorization checks inside handlers only
// ever see roles read from the store.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.CORSOrigins == nil {
		deps.CORSOrigins = []string{"*"}
	}

	s := &Server{router: mux.NewRouter()}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "Not found")
	})

	var recorder middleware.ReconcileRecorder
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
		recorder = deps.Metrics
	}

	if deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, deps.Health)
	}
	if deps.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, deps.Registry)
	}

	s.router.HandleFunc("/api/me", CurrentUser).Methods(http.MethodGet)
	rbac.NewHandlers(deps.Roles, deps.Writer, deps.Invalidator).RegisterRoutes(s.router)

	// authentication is optional at this layer: unauthenticated requests reach
	// the public routes, and protected routes answer 401 themselves
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(deps.CORSOrigins),
		httputil.MaxBytesMiddleware(maxRequestBody),
		middleware.NewAuthMiddleware(deps.Validator, true).Handler,
		middleware.NewClaimsReconciler(deps.Roles, recorder).Handler,
	)

	s.handler = otelhttp.NewHandler(chain(s.router), "rolesync",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}
