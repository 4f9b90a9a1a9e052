package rolecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/platinummonkey/rolesync/pkg/observability"
)

// Default configuration values
const (
	DefaultTTL          = 60 * time.Second
	DefaultStoreTimeout = 2 * time.Second
	DefaultMaxEntries   = 100000
	DefaultShards       = 32
)

var (
	// ErrInvalidTTL is returned by New when TTL is not positive
	ErrInvalidTTL = errors.New("role cache ttl must be positive")

	// ErrInvalidStoreTimeout is returned by New when StoreTimeout is not positive
	ErrInvalidStoreTimeout = errors.New("role store timeout must be positive")
)

// Config holds role cache configuration
type Config struct {
	// TTL bounds how long a loaded role set is served before a reload
	TTL time.Duration

	// StoreTimeout bounds a single call to the Loader
	StoreTimeout time.Duration

	// MaxEntries caps the number of cached users across all shards
	MaxEntries int

	// Shards is the number of independently locked partitions
	Shards int

	// Clock is the time source; defaults to the wall clock
	Clock clock.Clock

	// Metrics receives cache events; optional
	Metrics MetricsRecorder

	// Logger defaults to a no-op logger
	Logger *observability.Logger
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:          DefaultTTL,
		StoreTimeout: DefaultStoreTimeout,
		MaxEntries:   DefaultMaxEntries,
		Shards:       DefaultShards,
	}
}

// Validate checks the configuration and fills in defaults for optional fields
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, c.TTL)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStoreTimeout, c.StoreTimeout)
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxEntries < c.Shards {
		c.Shards = c.MaxEntries
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger()
	}
	return nil
}

// MetricsRecorder receives role cache events. observability.Metrics
// implements it with Prometheus collectors.
type MetricsRecorder interface {
	RecordRoleCacheHit()
	RecordRoleCacheMiss()
	RecordRoleLoad(outcome string, duration time.Duration)
	RecordRoleSharedWait()
	RecordRoleEviction(reason string)
	RecordRoleInvalidation(scope string)
	SetRoleCacheEntries(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordRoleCacheHit() {}
func (nopMetrics) RecordRoleCacheMiss() {}
func (nopMetrics) RecordRoleLoad(string, time.Duration) {}
func (nopMetrics) RecordRoleSharedWait() {}
func (nopMetrics) RecordRoleEviction(string) {}
func (nopMetrics) RecordRoleInvalidation(string) {}
func (nopMetrics) SetRoleCacheEntries(int) {}
