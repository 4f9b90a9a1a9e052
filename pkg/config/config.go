package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file providing base values
const ConfigFileEnv = "ROLESYNC_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	RoleCache     RoleCacheConfig     `yaml:"role_cache"`
	Invalidation  InvalidationConfig  `yaml:"invalidation"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StoreConfig holds role store connection settings
type StoreConfig struct {
	PostgresURL     string        `yaml:"postgres_url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RoleCacheConfig holds role cache settings
type RoleCacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	MaxEntries    int           `yaml:"max_entries"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// InvalidationConfig holds the broadcast settings. An empty RedisURL keeps
// invalidation local to the process.
type InvalidationConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Store: StoreConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		RoleCache: RoleCacheConfig{
			TTL:           60 * time.Second,
			StoreTimeout:  2 * time.Second,
			MaxEntries:    100000,
			SweepSchedule: "@every 1m",
		},
		Invalidation: InvalidationConfig{
			Channel: "rolesync:invalidate",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "rolesync",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// ROLESYNC_CONFIG_FILE when set, and ROLESYNC_* environment variables, in
// increasing order of precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the values present in a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("ROLESYNC_HOST", s.Host)
	s.Port = getEnv("ROLESYNC_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("ROLESYNC_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ROLESYNC_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("ROLESYNC_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("ROLESYNC_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.CORSOrigins = getEnvList("ROLESYNC_CORS_ORIGINS", s.CORSOrigins)

	st := &c.Store
	st.PostgresURL = getEnv("ROLESYNC_POSTGRES_URL", st.PostgresURL)
	st.MaxOpenConns = getEnvInt("ROLESYNC_POSTGRES_MAX_CONNS", st.MaxOpenConns)
	st.MaxIdleConns = getEnvInt("ROLESYNC_POSTGRES_MAX_IDLE_CONNS", st.MaxIdleConns)
	st.ConnMaxLifetime = getEnvDuration("ROLESYNC_POSTGRES_CONN_MAX_LIFETIME", st.ConnMaxLifetime)

	rc := &c.RoleCache
	rc.TTL = getEnvDuration("ROLESYNC_ROLE_CACHE_TTL", rc.TTL)
	rc.StoreTimeout = getEnvDuration("ROLESYNC_ROLE_STORE_TIMEOUT", rc.StoreTimeout)
	rc.MaxEntries = getEnvInt("ROLESYNC_ROLE_CACHE_MAX_ENTRIES", rc.MaxEntries)
	rc.SweepSchedule = getEnv("ROLESYNC_SWEEP_SCHEDULE", rc.SweepSchedule)

	c.Invalidation.RedisURL = getEnv("ROLESYNC_REDIS_URL", c.Invalidation.RedisURL)
	c.Invalidation.Channel = getEnv("ROLESYNC_INVALIDATION_CHANNEL", c.Invalidation.Channel)

	c.Auth.JWTSecret = getEnv("ROLESYNC_JWT_SECRET", c.Auth.JWTSecret)

	o := &c.Observability
	o.LogLevel = getEnv("ROLESYNC_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("ROLESYNC_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ROLESYNC_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ROLESYNC_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ROLESYNC_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ROLESYNC_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ROLESYNC_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("ROLESYNC_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server port %q is not a valid port", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Store.PostgresURL == "" {
		errs = append(errs, errors.New("postgres URL is required (ROLESYNC_POSTGRES_URL)"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required (ROLESYNC_JWT_SECRET)"))
	}

	if c.RoleCache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("role cache TTL must be positive, got %s", c.RoleCache.TTL))
	}
	if c.RoleCache.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("role store timeout must be positive, got %s", c.RoleCache.StoreTimeout))
	}
	if c.RoleCache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("role cache max entries must be positive, got %d", c.RoleCache.MaxEntries))
	}
	if _, err := cron.ParseStandard(c.RoleCache.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid sweep schedule %q: %w", c.RoleCache.SweepSchedule, err))
	}

	if c.Invalidation.RedisURL != "" && c.Invalidation.Channel == "" {
		errs = append(errs, errors.New("invalidation channel is required when Redis is configured"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1], got %v", r))
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
