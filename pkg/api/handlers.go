package api

import (
	"net/http"

	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/httputil"
)

// CurrentUserResponse describes the caller after claims reconciliation
type CurrentUserResponse struct {
	Subject string       `json:"subject"`
	Roles   []string     `json:"roles"`
	Claims  []auth.Claim `json:"claims"`
}

// CurrentUser returns the reconciled principal of the caller. Roles come from
// the authorization store, the remaining claims from the token.
func CurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !principal.IsAuthenticated() {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	roles := principal.Roles()
	if roles == nil {
		roles = []string{}
	}
	claims := principal.NonRoleClaims()
	if claims == nil {
		claims = []auth.Claim{}
	}

	httputil.WriteSuccess(w, CurrentUserResponse{
		Subject: principal.Subject(),
		Roles:   roles,
		Claims:  claims,
	})
}
