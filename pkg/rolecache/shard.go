package rolecache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Removal reasons reported to MetricsRecorder
const (
	reasonCapacity    = "capacity"
	reasonExpired     = "expired"
	reasonInvalidated = "invalidated"
)

// marker records the sequence number of the latest invalidation of a user so
// that loads started before it cannot write their result back
type marker struct {
	seq uint64
	at  time.Time
}

// shard is one lock domain of the cache. Every field is guarded by mu.
type shard struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *Entry]
	markers map[string]marker

	// reason is reported by the eviction callback; removals other than LRU
	// overflow set it for the duration of the call
	reason   string
	onRemove func(reason string)
}

func newShard(capacity int, onRemove func(reason string)) *shard {
	s := &shard{
		markers:  make(map[string]marker),
		reason:   reasonCapacity,
		onRemove: onRemove,
	}
	// NewLRU only fails for a non-positive size, which New rules out
	s.entries, _ = simplelru.NewLRU[string, *Entry](capacity, func(string, *Entry) {
		s.onRemove(s.reason)
	})
	return s
}

// removeLocked deletes key, reporting reason. Caller holds mu.
func (s *shard) removeLocked(key, reason string) bool {
	s.reason = reason
	ok := s.entries.Remove(key)
	s.reason = reasonCapacity
	return ok
}

// purgeLocked drops every entry and marker. Caller holds mu.
func (s *shard) purgeLocked(reason string) {
	s.reason = reason
	s.entries.Purge()
	s.reason = reasonCapacity
	clear(s.markers)
}

// staleLocked reports whether a load that began at startSeq has been
// overtaken by an invalidation of key. Caller holds mu.
func (s *shard) staleLocked(key string, startSeq uint64) bool {
	m, ok := s.markers[key]
	return ok && m.seq > startSeq
}

// sweepLocked removes entries whose loadedAt+ttl is before now and markers
// older than markerTTL. Caller holds mu.
func (s *shard) sweepLocked(now time.Time, ttl, markerTTL time.Duration) int {
	removed := 0
	for _, key := range s.entries.Keys() {
		e, ok := s.entries.Peek(key)
		if ok && e.LoadedAt.Add(ttl).Before(now) {
			if s.removeLocked(key, reasonExpired) {
				removed++
			}
		}
	}
	for key, m := range s.markers {
		if now.Sub(m.at) > markerTTL {
			delete(s.markers, key)
		}
	}
	return removed
}
