package rbac

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/httputil"
	"github.com/platinummonkey/rolesync/pkg/observability"
)

// RoleReader serves the current role set of a user, normally through the role cache
type RoleReader interface {
	Get(ctx context.Context, userID string) (RoleSet, error)
}

// RoleWriter commits role assignment changes to the authorization store
type RoleWriter interface {
	AssignRole(ctx context.Context, userID, role string, expiresAt *time.Time) (*UserRole, error)
	RevokeRole(ctx context.Context, userID, role string) error
}

// Invalidator discards cached roles after a committed change
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Handlers provides the admin HTTP endpoints for role assignments
type Handlers struct {
	reader      RoleReader
	writer      RoleWriter
	invalidator Invalidator
	roles       *RoleMiddleware
}

// NewHandlers creates new role admin handlers
func NewHandlers(reader RoleReader, writer RoleWriter, invalidator Invalidator) *Handlers {
	return &Handlers{
		reader:      reader,
		writer:      writer,
		invalidator: invalidator,
		roles:       NewRoleMiddleware(),
	}
}

// RegisterRoutes registers the admin routes. Every route requires RoleAdmin.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.roles.RequireRole(RoleAdmin))

	admin.HandleFunc("/users/{id}/roles", h.GetUserRoles).Methods("GET")
	admin.HandleFunc("/users/{id}/roles/invalidate", h.InvalidateUserRoles).Methods("POST")
	admin.HandleFunc("/users/{id}/roles/{role}", h.AssignRole).Methods("PUT")
	admin.HandleFunc("/users/{id}/roles/{role}", h.RevokeRole).Methods("DELETE")
}

// assignRoleRequest is the optional body of the assign endpoint
type assignRoleRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// GetUserRoles returns the roles a user currently holds
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.reader.Get(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	names := roles.Names()
	if names == nil {
		names = []string{}
	}
	httputil.WriteSuccess(w, UserRolesResponse{UserID: userID, Roles: names})
}

// AssignRole grants a role and invalidates the user's cached roles
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	userID, role := vars["id"], vars["role"]

	var req assignRoleRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	userRole, err := h.writer.AssignRole(ctx, userID, role, req.ExpiresAt)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.invalidator.Invalidate(ctx, userID)
	h.logChange(ctx, "role assigned", userID, role)

	httputil.WriteSuccess(w, userRole)
}

// RevokeRole removes a role and invalidates the user's cached roles
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	userID, role := vars["id"], vars["role"]

	if err := h.writer.RevokeRole(ctx, userID, role); err != nil {
		writeStoreError(w, r, err)
		return
	}

	h.invalidator.Invalidate(ctx, userID)
	h.logChange(ctx, "role revoked", userID, role)

	httputil.WriteNoContent(w)
}

// InvalidateUserRoles forces the next request from the user to reload roles,
// for changes made directly in the store
func (h *Handlers) InvalidateUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	h.invalidator.Invalidate(r.Context(), userID)
	h.logChange(r.Context(), "roles invalidated", userID, "")

	httputil.WriteNoContent(w)
}

func (h *Handlers) logChange(ctx context.Context, msg, userID, role string) {
	logger := observability.FromContext(ctx).WithField("target_user_id", userID)
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		logger = logger.WithField("admin", p.Subject())
	}
	if role != "" {
		logger = logger.WithField("role", role)
	}
	logger.Info(msg)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRole):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFoundError(w, "role not found")
	case errors.Is(err, ErrAssignmentNotFound):
		httputil.WriteNotFoundError(w, "role assignment not found")
	case errors.Is(err, ErrStoreUnavailable):
		observability.FromContext(r.Context()).WithError(err).Error("authorization store unavailable")
		httputil.WriteServiceUnavailable(w, ErrStoreUnavailable.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("role admin request failed")
		httputil.WriteInternalError(w)
	}
}
