package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/platinummonkey/rolesync/pkg/async"
	"github.com/platinummonkey/rolesync/pkg/observability"
)

// DefaultChannel is the pub/sub channel invalidation signals travel on
const DefaultChannel = "rolesync:invalidate"

// publishTimeout bounds one asynchronous broadcast
const publishTimeout = 5 * time.Second

// ErrMalformedSignal is returned by DecodeSignal for payloads without a user id
var ErrMalformedSignal = errors.New("malformed invalidation signal")

// Signal tells every replica to drop its cached roles for UserID
type Signal struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Encode renders the signal as its JSON wire form
func (s Signal) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSignal parses a signal published by another replica
func DecodeSignal(payload []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(payload, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: %w", ErrMalformedSignal, err)
	}
	if strings.TrimSpace(s.UserID) == "" {
		return Signal{}, fmt.Errorf("%w: missing user_id", ErrMalformedSignal)
	}
	return s, nil
}

// Cache is the local role cache. *rolecache.Service implements it.
type Cache interface {
	Invalidate(userID string)
	InvalidateAll()
}

// Publisher broadcasts signals to other replicas
type Publisher interface {
	Publish(ctx context.Context, signal Signal) error
}

// Notifier invalidates the local cache and broadcasts the change.
// It satisfies rbac.Invalidator.
type Notifier struct {
	cache     Cache
	publisher Publisher
	clock     clock.Clock
}

// NewNotifier creates a notifier. A nil publisher keeps invalidation local,
// which is what a single replica deployment needs.
func NewNotifier(cache Cache, publisher Publisher) *Notifier {
	return &Notifier{
		cache:     cache,
		publisher: publisher,
		clock:     clock.New(),
	}
}

// Invalidate drops userID from the local cache before returning, then
// publishes the signal in the background. Broadcast failures are logged; the
// TTL bounds staleness on replicas that miss the signal.
func (n *Notifier) Invalidate(ctx context.Context, userID string) {
	n.cache.Invalidate(userID)

	if n.publisher == nil {
		return
	}

	signal := Signal{UserID: userID, IssuedAt: n.clock.Now().UTC()}
	async.SafeGo(ctx, publishTimeout, "publish role invalidation", func(ctx context.Context) error {
		if err := n.publisher.Publish(ctx, signal); err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		observability.FromContext(ctx).WithField("target_user_id", userID).Debug("role invalidation published")
		return nil
	})
}
