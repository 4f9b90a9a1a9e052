package rbac

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Built-in role names
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var (
	// ErrUserNotFound is returned when the authorization store has no record for a user
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable is returned when the authorization store cannot be reached,
	// times out, or fails for any other reason
	ErrStoreUnavailable = errors.New("authorization store unavailable")

	// ErrInvalidRole is returned when a role name is empty or malformed
	ErrInvalidRole = errors.New("invalid role name")
)

// RoleSet is an immutable, sorted, de-duplicated set of role names observed
// for one user at one instant. The zero value is an empty set.
type RoleSet struct {
	names []string
}

// NewRoleSet builds a RoleSet from the given names. Empty names are dropped.
func NewRoleSet(names ...string) RoleSet {
	if len(names) == 0 {
		return RoleSet{}
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)

	// compact in place
	j := 0
	for i := range out {
		if i > 0 && out[i] == out[j-1] {
			continue
		}
		out[j] = out[i]
		j++
	}

	return RoleSet{names: out[:j]}
}

// Names returns a copy of the role names in ascending order
func (rs RoleSet) Names() []string {
	if len(rs.names) == 0 {
		return nil
	}
	out := make([]string, len(rs.names))
	copy(out, rs.names)
	return out
}

// Has reports whether the set contains the role
func (rs RoleSet) Has(name string) bool {
	i := sort.SearchStrings(rs.names, name)
	return i < len(rs.names) && rs.names[i] == name
}

// HasAny reports whether the set contains at least one of the roles
func (rs RoleSet) HasAny(names ...string) bool {
	for _, n := range names {
		if rs.Has(n) {
			return true
		}
	}
	return false
}

// Len returns the number of roles
func (rs RoleSet) Len() int {
	return len(rs.names)
}

// Equal reports whether both sets hold the same roles
func (rs RoleSet) Equal(other RoleSet) bool {
	if len(rs.names) != len(other.names) {
		return false
	}
	for i := range rs.names {
		if rs.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// String returns the roles joined by commas
func (rs RoleSet) String() string {
	return strings.Join(rs.names, ",")
}

// UserRole represents a role assignment to a user
type UserRole struct {
	UserID    string     `json:"user_id"`
	Role      string     `json:"role"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UserRolesResponse is the body returned by the role listing endpoint
type UserRolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// ValidateRoleName checks that a role name is usable as a claim value
func ValidateRoleName(name string) error {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return ErrInvalidRole
	}
	if len(name) > 64 {
		return ErrInvalidRole
	}
	return nil
}
