package rbac

import (
	"net/http"

	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/httputil"
)

// RoleMiddleware authorizes requests against the role claims of the
// reconciled principal. It must run after middleware.ClaimsReconciler.
type RoleMiddleware struct{}

// NewRoleMiddleware creates a new role middleware
func NewRoleMiddleware() *RoleMiddleware {
	return &RoleMiddleware{}
}

// RequireRole creates middleware that requires a specific role
func (rm *RoleMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return rm.RequireAnyRole(role)
}

// RequireAnyRole creates middleware that requires at least one of the roles
func (rm *RoleMiddleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !principal.IsAuthenticated() {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			for _, role := range roles {
				if principal.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.WriteForbidden(w, "Insufficient permissions")
		})
	}
}
