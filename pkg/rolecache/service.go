package rolecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/platinummonkey/rolesync/pkg/rbac"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Load outcomes reported to MetricsRecorder
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeTimeout     = "timeout"
)

const tracerName = "github.com/platinummonkey/rolesync/pkg/rolecache"

// Loader reads the authoritative role set of a user. rbac.Store implements it.
type Loader interface {
	LoadRoles(ctx context.Context, userID string) (rbac.RoleSet, error)
}

// Entry is a cached role set. Entries are replaced wholesale, never edited.
type Entry struct {
	UserID   string
	Roles    rbac.RoleSet
	LoadedAt time.Time
	Version  uint64
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Loads         int64 `json:"loads"`
	LoadErrors    int64 `json:"load_errors"`
	SharedWaits   int64 `json:"shared_waits"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Entries       int   `json:"entries"`
}

// Service caches role sets per user with a freshness bound, single-flight
// loading, and explicit invalidation. It is safe for concurrent use.
type Service struct {
	cfg       Config
	loader    Loader
	shards    []*shard
	group     singleflight.Group
	tracer    trace.Tracer
	markerTTL time.Duration

	// seq orders loads against invalidations and supplies entry versions
	seq atomic.Uint64
	// purgedAt is the seq of the latest InvalidateAll
	purgedAt atomic.Uint64

	entries       atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	loads         atomic.Int64
	loadErrors    atomic.Int64
	sharedWaits   atomic.Int64
	evictions     atomic.Int64
	invalidations atomic.Int64
}

// New creates a role cache over loader. A nil config uses DefaultConfig.
func New(loader Loader, config *Config) (*Service, error) {
	if loader == nil {
		return nil, errors.New("role cache requires a loader")
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		loader:    loader,
		shards:    make([]*shard, cfg.Shards),
		tracer:    otel.Tracer(tracerName),
		markerTTL: 2 * cfg.StoreTimeout,
	}

	perShard := cfg.MaxEntries / cfg.Shards
	if perShard < 1 {
		perShard = 1
	}
	for i := range s.shards {
		s.shards[i] = newShard(perShard, s.onRemove)
	}

	return s, nil
}

// Get returns the roles of userID, serving a cached set younger than the TTL
// or loading a fresh one. Concurrent misses for the same user share one load.
// Errors wrap rbac.ErrUserNotFound or rbac.ErrStoreUnavailable; failed loads
// are never cached.
func (s *Service) Get(ctx context.Context, userID string) (rbac.RoleSet, error) {
	if roles, ok := s.lookup(userID); ok {
		s.hits.Add(1)
		s.cfg.Metrics.RecordRoleCacheHit()
		return roles, nil
	}
	s.misses.Add(1)
	s.cfg.Metrics.RecordRoleCacheMiss()

	ch := s.group.DoChan(s.flightKey(userID), func() (interface{}, error) {
		// a flight that finished between our lookup and DoChan may have
		// stored a fresh entry
		if roles, ok := s.lookup(userID); ok {
			return roles, nil
		}
		return s.load(ctx, userID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.sharedWaits.Add(1)
			s.cfg.Metrics.RecordRoleSharedWait()
		}
		if res.Err != nil {
			return rbac.RoleSet{}, res.Err
		}
		return res.Val.(rbac.RoleSet), nil
	case <-ctx.Done():
		return rbac.RoleSet{}, fmt.Errorf("waiting for roles of %q: %w: %w", userID, rbac.ErrStoreUnavailable, ctx.Err())
	}
}

// flightKey scopes single-flight keys to the current purge generation so a
// Get started after InvalidateAll never joins a load started before it
func (s *Service) flightKey(userID string) string {
	return userID + "\x00" + strconv.FormatUint(s.purgedAt.Load(), 10)
}

// lookup returns a fresh cached role set, dropping an expired one
func (s *Service) lookup(userID string) (rbac.RoleSet, bool) {
	sh := s.shardFor(userID)
	now := s.cfg.Clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries.Get(userID)
	if !ok {
		return rbac.RoleSet{}, false
	}
	if now.Sub(e.LoadedAt) < s.cfg.TTL {
		return e.Roles, true
	}
	sh.removeLocked(userID, reasonExpired)
	return rbac.RoleSet{}, false
}

// load runs inside the single flight. It is detached from the cancellation
// of the caller that started it and bounded by StoreTimeout, so every waiter
// sees the same outcome.
func (s *Service) load(callerCtx context.Context, userID string) (rbac.RoleSet, error) {
	startSeq := s.seq.Load()
	startedAt := s.cfg.Clock.Now()
	sh := s.shardFor(userID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), s.cfg.StoreTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "rolecache.load", trace.WithAttributes(
		attribute.String("rolecache.user_id", userID),
	))
	defer span.End()

	s.loads.Add(1)
	roles, err := s.callLoader(ctx, userID)
	elapsed := s.cfg.Clock.Since(startedAt)

	if err != nil {
		outcome := classify(err)
		if outcome != OutcomeNotFound {
			s.loadErrors.Add(1)
			s.cfg.Logger.WithError(err).WithFields(map[string]interface{}{
				"user_id": userID,
				"outcome": outcome,
			}).Warn("role load failed")
		}
		s.cfg.Metrics.RecordRoleLoad(outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return rbac.RoleSet{}, err
	}
	s.cfg.Metrics.RecordRoleLoad(OutcomeSuccess, elapsed)
	span.SetAttributes(attribute.Int("rolecache.role_count", roles.Len()))

	sh.mu.Lock()
	if sh.staleLocked(userID, startSeq) || s.purgedAt.Load() > startSeq {
		sh.mu.Unlock()
		span.SetAttributes(attribute.Bool("rolecache.discarded", true))
		return roles, nil
	}
	if _, exists := sh.entries.Peek(userID); !exists {
		s.entries.Add(1)
	}
	sh.entries.Add(userID, &Entry{
		UserID:   userID,
		Roles:    roles,
		LoadedAt: startedAt,
		Version:  s.seq.Add(1),
	})
	sh.mu.Unlock()

	s.cfg.Metrics.SetRoleCacheEntries(int(s.entries.Load()))
	return roles, nil
}

// callLoader runs the loader on its own goroutine so a loader that ignores
// ctx still cannot hold the flight past the deadline
func (s *Service) callLoader(ctx context.Context, userID string) (rbac.RoleSet, error) {
	type result struct {
		roles rbac.RoleSet
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer observability.RecoverPanicWithCallback(s.cfg.Logger, "role loader", func(r interface{}) {
			done <- result{err: fmt.Errorf("%w: role loader panicked: %v", rbac.ErrStoreUnavailable, r)}
		})
		roles, err := s.loader.LoadRoles(ctx, userID)
		done <- result{roles: roles, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.roles, nil
		}
		if errors.Is(res.err, rbac.ErrUserNotFound) || errors.Is(res.err, rbac.ErrStoreUnavailable) {
			return rbac.RoleSet{}, res.err
		}
		return rbac.RoleSet{}, fmt.Errorf("%w: %w", rbac.ErrStoreUnavailable, res.err)
	case <-ctx.Done():
		return rbac.RoleSet{}, fmt.Errorf("%w: role load for %q exceeded %s: %w",
			rbac.ErrStoreUnavailable, userID, s.cfg.StoreTimeout, ctx.Err())
	}
}

// Invalidate discards the cached roles of userID. A Get that starts after
// Invalidate returns performs a fresh load; a load already in flight neither
// serves later callers nor writes its result into the cache.
func (s *Service) Invalidate(userID string) {
	sh := s.shardFor(userID)

	sh.mu.Lock()
	sh.markers[userID] = marker{seq: s.seq.Add(1), at: s.cfg.Clock.Now()}
	sh.removeLocked(userID, reasonInvalidated)
	s.group.Forget(s.flightKey(userID))
	sh.mu.Unlock()

	s.invalidations.Add(1)
	s.cfg.Metrics.RecordRoleInvalidation("user")
	s.cfg.Metrics.SetRoleCacheEntries(int(s.entries.Load()))
}

// InvalidateAll discards every cached entry and detaches every in-flight
// load. Bumping purgedAt moves later callers to new flight keys and stops
// older loads from writing back.
func (s *Service) InvalidateAll() {
	s.purge()

	s.invalidations.Add(1)
	s.cfg.Metrics.RecordRoleInvalidation("all")
	s.cfg.Metrics.SetRoleCacheEntries(int(s.entries.Load()))
}

// EvictExpired removes every entry whose loadedAt+TTL is before now, one
// shard at a time, and returns how many were removed
func (s *Service) EvictExpired() int {
	now := s.cfg.Clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		removed += sh.sweepLocked(now, s.cfg.TTL, s.markerTTL)
		sh.mu.Unlock()
	}

	s.cfg.Metrics.SetRoleCacheEntries(int(s.entries.Load()))
	return removed
}

// Peek returns a copy of the cached entry for diagnostics. It does not affect
// recency and ignores freshness.
func (s *Service) Peek(userID string) (Entry, bool) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries.Peek(userID)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of cached entries
func (s *Service) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.entries.Len()
		sh.mu.Unlock()
	}
	return n
}

// Stats returns cache statistics
func (s *Service) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Loads:         s.loads.Load(),
		LoadErrors:    s.loadErrors.Load(),
		SharedWaits:   s.sharedWaits.Load(),
		Evictions:     s.evictions.Load(),
		Invalidations: s.invalidations.Load(),
		Entries:       s.Len(),
	}
}

// TTL returns the configured freshness bound
func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

// Close drops all cached state. Loads still in flight finish for their
// callers but are not stored.
func (s *Service) Close() error {
	s.purge()
	return nil
}

func (s *Service) purge() {
	s.purgedAt.Store(s.seq.Add(1))

	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.purgeLocked(reasonInvalidated)
		sh.mu.Unlock()
	}
}

func (s *Service) shardFor(userID string) *shard {
	return s.shards[xxhash.Sum64String(userID)%uint64(len(s.shards))]
}

// onRemove runs under the owning shard's lock for every entry leaving the cache
func (s *Service) onRemove(reason string) {
	s.entries.Add(-1)
	if reason != reasonInvalidated {
		s.evictions.Add(1)
	}
	s.cfg.Metrics.RecordRoleEviction(reason)
}

func classify(err error) string {
	switch {
	case errors.Is(err, rbac.ErrUserNotFound):
		return OutcomeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeUnavailable
	}
}
