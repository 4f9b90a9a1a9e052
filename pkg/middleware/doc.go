// Package middleware authenticates requests and reconciles their role claims
// with the authorization store.
//
// # Overview
//
// Bearer tokens carry the roles a user held when the token was minted. This
// package makes sure authorization never sees those roles: AuthMiddleware
// turns the token into an auth.Principal and ClaimsReconciler swaps every
// role claim for the roles the store holds now.
//
// # Ordering
//
//	chain := httputil.Chain(
//		middleware.NewAuthMiddleware(validator, false).Handler,
//		middleware.NewClaimsReconciler(cache, metrics).Handler,
//		rbac.NewRoleMiddleware().RequireRole(rbac.RoleEditor),
//	)
//
// The reconciler marks the request context once it has run, so mounting it
// on nested routers costs a single lookup.
//
// # Failure Handling
//
// A user missing from the store proceeds with no role claims. Any other
// lookup failure ends the request with 503 and
// {"error":"authorization store unavailable"}; it is never turned into a 403
// and the token's own roles are never used as a fallback.
//
// Hosts that are not HTTP servers call Reconcile directly.
package middleware
