// Package api assembles the rolesync HTTP server.
//
// Every request passes through the same chain: request id, logging, panic
// recovery, CORS, bearer token authentication and claims reconciliation.
// Authentication is optional at the chain level so health and metrics stay
// public; protected handlers answer 401 themselves.
//
// Routes:
//
//	GET    /api/me                               reconciled identity of the caller
//	GET    /admin/users/{id}/roles               current roles of a user
//	PUT    /admin/users/{id}/roles/{role}        assign a role
//	DELETE /admin/users/{id}/roles/{role}        revoke a role
//	POST   /admin/users/{id}/roles/invalidate    drop cached roles
//	GET    /health, /health/live, /health/ready  health checks
//	GET    /metrics                              Prometheus metrics
//
// The admin routes require the admin role as held in the authorization store,
// not as claimed by the token.
package api
