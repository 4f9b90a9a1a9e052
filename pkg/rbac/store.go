package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrRoleNotFound is returned when a role name has no row in the roles table
var ErrRoleNotFound = errors.New("role not found")

// ErrAssignmentNotFound is returned when revoking a role the user does not hold
var ErrAssignmentNotFound = errors.New("role assignment not found")

// loadRolesQuery returns one row per active assignment, a single row with a
// NULL name when the user exists without roles, and no rows for unknown users.
// The user id placeholder must appear before the timestamp so positional
// binding lines up on drivers that number parameters by first use.
const loadRolesQuery = `
	SELECT r.name
	FROM (SELECT id FROM users WHERE id = $1) u
	LEFT JOIN user_roles ur
		ON ur.user_id = u.id AND (ur.expires_at IS NULL OR ur.expires_at > $2)
	LEFT JOIN roles r ON r.id = ur.role_id
`

// Store is the read path over the authorization store plus the mutation
// helpers used by the admin endpoints
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return NewStoreWithClock(db, clock.New())
}

// NewStoreWithClock creates a role store that evaluates assignment expiry
// against the given clock
func NewStoreWithClock(db *sql.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// LoadRoles returns the active roles for a user. Unknown users fail with
// ErrUserNotFound; every other failure wraps ErrStoreUnavailable.
func (s *Store) LoadRoles(ctx context.Context, userID string) (RoleSet, error) {
	rows, err := s.db.QueryContext(ctx, loadRolesQuery, userID, s.clock.Now().UTC())
	if err != nil {
		return RoleSet{}, unavailable("failed to query roles", err)
	}
	defer rows.Close()

	found := false
	var names []string
	for rows.Next() {
		found = true
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return RoleSet{}, unavailable("failed to scan role", err)
		}
		if name.Valid {
			names = append(names, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return RoleSet{}, unavailable("failed to iterate roles", err)
	}

	if !found {
		return RoleSet{}, fmt.Errorf("failed to load roles for %q: %w", userID, ErrUserNotFound)
	}

	return NewRoleSet(names...), nil
}

// AssignRole grants a role to a user. Re-assigning an existing role refreshes
// its grant time and expiry.
func (s *Store) AssignRole(ctx context.Context, userID, role string, expiresAt *time.Time) (*UserRole, error) {
	if err := ValidateRoleName(role); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.ensureUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	roleID, err := s.lookupRole(ctx, tx, role)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO user_roles (user_id, role_id, granted_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at
	`
	if _, err := tx.ExecContext(ctx, query, userID, roleID, now, expires); err != nil {
		return nil, unavailable("failed to assign role", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("failed to commit role assignment", err)
	}

	ur := &UserRole{UserID: userID, Role: role, GrantedAt: now}
	if expires.Valid {
		t := expires.Time
		ur.ExpiresAt = &t
	}
	return ur, nil
}

// RevokeRole removes a role from a user
func (s *Store) RevokeRole(ctx context.Context, userID, role string) error {
	if err := ValidateRoleName(role); err != nil {
		return err
	}

	query := `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id IN (SELECT id FROM roles WHERE name = $2)
	`
	result, err := s.db.ExecContext(ctx, query, userID, role)
	if err != nil {
		return unavailable("failed to revoke role", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return unavailable("failed to read affected rows", err)
	}
	if n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// Ping checks connectivity to the store
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("failed to ping store", err)
	}
	return nil
}

func (s *Store) ensureUser(ctx context.Context, tx *sql.Tx, userID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to find user %q: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return unavailable("failed to look up user", err)
	}
	return nil
}

func (s *Store) lookupRole(ctx context.Context, tx *sql.Tx, role string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, role).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to find role %q: %w", role, ErrRoleNotFound)
	}
	if err != nil {
		return 0, unavailable("failed to look up role", err)
	}
	return id, nil
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrStoreUnavailable, err)
}
