// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/platinummonkey/rolesync/pkg/contextkeys"
//   ctx = contextkeys.WithPrincipal(ctx, principal)
//   principal, ok := ctx.Value(contextkeys.PrincipalKey).(auth.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains auth.Principal
	// Set by: middleware.AuthMiddleware, replaced by middleware.ClaimsReconciler
	// Required by: rbac.RoleMiddleware, handlers that inspect the caller
	// Type: auth.Principal
	PrincipalKey Key = "principal"

	// ReconciledKey marks a request whose role claims were already replaced
	// Set by: middleware.ClaimsReconciler (pkg/middleware/reconcile.go)
	// Used by: middleware.ClaimsReconciler to run at most once per request
	// Type: bool
	ReconciledKey Key = "roles_reconciled"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after token validation
	// Used by: Logger, user-scoped operations
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithReconciled marks the context as having reconciled role claims
func WithReconciled(ctx context.Context) context.Context {
	return context.WithValue(ctx, ReconciledKey, true)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// IsReconciled reports whether role claims were already reconciled for this context
func IsReconciled(ctx context.Context) bool {
	done, _ := ctx.Value(ReconciledKey).(bool)
	return done
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
