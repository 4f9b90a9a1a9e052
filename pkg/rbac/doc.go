// Package rbac is the role store adapter: it reads the roles a user currently
// holds from the authorization store and exposes the admin endpoints that
// change them.
//
// # Schema
//
// The store reads three tables:
//
//	users       (id TEXT PRIMARY KEY)
//	roles       (id INTEGER PRIMARY KEY, name TEXT UNIQUE)
//	user_roles  (user_id, role_id, granted_at, expires_at, UNIQUE(user_id, role_id))
//
// An assignment is active while expires_at is NULL or in the future.
//
// # Loading Roles
//
//	store := rbac.NewStore(db)
//	roles, err := store.LoadRoles(ctx, "u1")
//	switch {
//	case errors.Is(err, rbac.ErrUserNotFound):
//		// unknown user, no roles
//	case errors.Is(err, rbac.ErrStoreUnavailable):
//		// fail closed
//	}
//
// LoadRoles is a single query. A user with no active assignments yields an
// empty RoleSet, an unknown user yields ErrUserNotFound, and every driver or
// context failure is wrapped in ErrStoreUnavailable.
//
// # Authorization
//
// RoleMiddleware checks the role claims of the principal in the request
// context. Those claims are only trustworthy after claims reconciliation has
// replaced the token's roles with the store's, so it must be mounted behind
// middleware.ClaimsReconciler.
//
// # Admin Endpoints
//
// Handlers serves assignment changes under /admin. Every successful change
// invalidates the user's cached roles before the response is written, so the
// next request of that user sees the change.
package rbac
