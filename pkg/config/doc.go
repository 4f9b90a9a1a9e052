// Package config loads rolesync configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file named by ROLESYNC_CONFIG_FILE, and ROLESYNC_*
// environment variables.
//
//	ROLESYNC_PORT="8080"
//	ROLESYNC_POSTGRES_URL="postgres://rolesync@db/rolesync?sslmode=disable"
//	ROLESYNC_JWT_SECRET="..."
//	ROLESYNC_REDIS_URL="redis://redis:6379/0"   # empty keeps invalidation local
//	ROLESYNC_ROLE_CACHE_TTL="60s"
//	ROLESYNC_ROLE_STORE_TIMEOUT="2s"
//	ROLESYNC_SWEEP_SCHEDULE="@every 1m"
//
// The same settings in YAML:
//
//	store:
//	  postgres_url: postgres://rolesync@db/rolesync?sslmode=disable
//	role_cache:
//	  ttl: 60s
//	  store_timeout: 2s
//
// LoadConfig validates the result and reports every problem at once.
package config
