package rbac

import (
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// TestPostgresEnv names the variable holding the integration database URL
const TestPostgresEnv = "ROLESYNC_TEST_POSTGRES_URL"

// testSchema is the minimal users/roles layout the store reads. It is valid
// for both SQLite and PostgreSQL.
const testSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users(id),
		role_id INTEGER NOT NULL REFERENCES roles(id),
		granted_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP,
		UNIQUE (user_id, role_id)
	);
`

// SkipIfNoDatabase skips the test if ROLESYNC_TEST_POSTGRES_URL is not set.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv(TestPostgresEnv)
	if dbURL == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", TestPostgresEnv)
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test if running in short mode OR if database is not available.
func SkipIfNoDatabaseOrShort(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}

// RequireDatabase gets a PostgreSQL connection with the schema applied, or
// skips the test if none is configured.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	if _, err := db.Exec(testSchema); err != nil {
		db.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	return db
}

// NewTestDB opens an in-memory SQLite database with the role schema applied.
// The pool is pinned to one connection since every SQLite memory connection
// is a separate database.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(testSchema); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// SeedUser inserts a user and grants it the given roles with no expiry,
// creating missing roles along the way.
func SeedUser(t *testing.T, db *sql.DB, userID string, roles ...string) {
	t.Helper()

	if _, err := db.Exec(`INSERT INTO users (id) VALUES ($1)`, userID); err != nil {
		t.Fatalf("Failed to insert user %s: %v", userID, err)
	}
	for _, role := range roles {
		roleID := SeedRole(t, db, role)
		if _, err := db.Exec(
			`INSERT INTO user_roles (user_id, role_id, granted_at) VALUES ($1, $2, $3)`,
			userID, roleID, time.Now().UTC(),
		); err != nil {
			t.Fatalf("Failed to grant %s to %s: %v", role, userID, err)
		}
	}
}

// SeedRole inserts a role if it does not exist and returns its id.
func SeedRole(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow(`SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id
	}
	if err != sql.ErrNoRows {
		t.Fatalf("Failed to look up role %s: %v", name, err)
	}

	if err := db.QueryRow(`SELECT COALESCE(MAX(id), 0) + 1 FROM roles`).Scan(&id); err != nil {
		t.Fatalf("Failed to allocate role id: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO roles (id, name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("Failed to insert role %s: %v", name, err)
	}
	return id
}

// IsDatabaseAvailable returns true if ROLESYNC_TEST_POSTGRES_URL is set (does not test connection).
func IsDatabaseAvailable() bool {
	return os.Getenv(TestPostgresEnv) != ""
}
