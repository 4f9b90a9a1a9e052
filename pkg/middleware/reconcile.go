package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/contextkeys"
	"github.com/platinummonkey/rolesync/pkg/httputil"
	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/platinummonkey/rolesync/pkg/rbac"
)

// Reconciliation outcomes reported to ReconcileRecorder
const (
	OutcomeReconciled  = "reconciled"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeSkipped     = "skipped"
)

// StoreUnavailableMessage is the body of the 503 sent when roles cannot be loaded
const StoreUnavailableMessage = "authorization store unavailable"

// RoleGetter returns the authoritative roles of a user.
// *rolecache.Service implements it.
type RoleGetter interface {
	Get(ctx context.Context, userID string) (rbac.RoleSet, error)
}

// ReconcileRecorder counts reconciliation outcomes
type ReconcileRecorder interface {
	RecordReconcile(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordReconcile(string) {}

// ClaimsReconciler replaces the role claims of the authenticated principal
// with the roles currently held by the store. It must run after
// AuthMiddleware and before any authorization check.
type ClaimsReconciler struct {
	roles   RoleGetter
	metrics ReconcileRecorder
}

// NewClaimsReconciler creates a reconciler reading roles from roles.
// metrics may be nil.
func NewClaimsReconciler(roles RoleGetter, metrics ReconcileRecorder) *ClaimsReconciler {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &ClaimsReconciler{
		roles:   roles,
		metrics: metrics,
	}
}

// Reconcile returns p with its role claims replaced by the stored roles of
// its subject. Unauthenticated principals are returned unchanged. An unknown
// user yields a principal with no role claims. Any other failure is returned
// and p must not be used for authorization.
func (c *ClaimsReconciler) Reconcile(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	reconciled, _, err := c.reconcile(ctx, p)
	return reconciled, err
}

func (c *ClaimsReconciler) reconcile(ctx context.Context, p auth.Principal) (auth.Principal, string, error) {
	if !p.IsAuthenticated() {
		return p, OutcomeSkipped, nil
	}

	roles, err := c.roles.Get(ctx, p.Subject())
	switch {
	case err == nil:
		return p.WithRoles(roles.Names()), OutcomeReconciled, nil
	case errors.Is(err, rbac.ErrUserNotFound):
		return p.WithRoles(nil), OutcomeNotFound, nil
	default:
		return p, OutcomeUnavailable, err
	}
}

// Handler wraps next so that it only ever sees reconciled role claims
func (c *ClaimsReconciler) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		principal, ok := auth.PrincipalFromContext(ctx)
		if !ok || !principal.IsAuthenticated() || contextkeys.IsReconciled(ctx) {
			c.metrics.RecordReconcile(OutcomeSkipped)
			next.ServeHTTP(w, r)
			return
		}

		reconciled, outcome, err := c.reconcile(ctx, principal)
		c.metrics.RecordReconcile(outcome)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("role reconciliation failed")
			httputil.WriteServiceUnavailable(w, StoreUnavailableMessage)
			return
		}

		ctx = contextkeys.WithReconciled(auth.WithPrincipal(ctx, reconciled))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
