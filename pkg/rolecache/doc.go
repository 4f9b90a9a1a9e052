// Package rolecache serves per-user role sets from memory with a bounded
// staleness window.
//
// # Overview
//
// Service sits between request-time authorization and the role store. A Get
// returns the cached RoleSet while it is younger than Config.TTL and otherwise
// loads a fresh one through the Loader:
//
//	svc, err := rolecache.New(rbac.NewStore(db), &rolecache.Config{
//		TTL:          60 * time.Second,
//		StoreTimeout: 2 * time.Second,
//	})
//	roles, err := svc.Get(ctx, userID)
//
// # Single Flight
//
// Concurrent misses for one user share a single load. The load is detached
// from the cancellation of the request that started it and is bounded by
// Config.StoreTimeout; on timeout every waiter receives
// rbac.ErrStoreUnavailable. A waiter whose own context ends stops waiting
// without disturbing the others.
//
// # Invalidation
//
// Invalidate must be called after any committed role change. Once it returns,
// the next Get for that user reads the store. A load already in flight when
// Invalidate runs still answers the callers that joined it, but it is detached
// from later callers and its result is not written to the cache.
//
// # Housekeeping
//
// Expired entries are dropped lazily by Get. EvictExpired removes them in bulk
// and is meant to be run on a schedule (see pkg/housekeeping). Capacity is
// bounded by Config.MaxEntries with least-recently-used eviction per shard.
//
// # Errors
//
// Failed loads are never cached. Errors wrap rbac.ErrUserNotFound or
// rbac.ErrStoreUnavailable; anything the Loader returns that is neither is
// reported as unavailable.
package rolecache
