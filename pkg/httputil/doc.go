// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error body has the same shape, {"error": "<message>"}:
//
//	httputil.WriteBadRequest(w, "invalid role name")
//	httputil.WriteUnauthorized(w, "Missing authorization header")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//	httputil.WriteServiceUnavailable(w, "authorization store unavailable")
//
// WriteInternalError never exposes error text; it always writes
// "Internal Server Error.".
//
// # Request Parsing
//
//	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
//	if !ok {
//		return // Error response already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware([]string{"*"}),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and claims reconciliation middleware
//   - pkg/rbac: Role authorization middleware
package httputil
