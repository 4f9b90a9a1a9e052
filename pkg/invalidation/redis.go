package invalidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/rolesync/pkg/observability"
)

// NewRedisClient parses url, applies connection timeouts and verifies the
// server answers a PING.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisPublisher publishes signals on a Redis channel
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher; an empty channel means DefaultChannel
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the signal to every subscribed replica
func (p *RedisPublisher) Publish(ctx context.Context, signal Signal) error {
	payload, err := signal.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// RedisSubscriber applies signals received on a Redis channel to the local cache
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
	cache   Cache
	backoff time.Duration
}

// NewRedisSubscriber creates a subscriber; an empty channel means DefaultChannel
func NewRedisSubscriber(client redis.UniversalClient, channel string, cache Cache) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		cache:   cache,
		backoff: time.Second,
	}
}

// Run consumes signals until ctx ends. Every (re)subscription empties the
// cache, since signals published while disconnected are lost.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	logger := observability.FromContext(ctx).WithField("channel", s.channel)

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return err
			}
			logger.WithError(err).Warn("invalidation subscription interrupted")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				s.cache.InvalidateAll()
				logger.Info("subscribed to role invalidations")
			}
		case *redis.Message:
			s.apply(logger, m.Payload)
		}
	}
}

func (s *RedisSubscriber) apply(logger *observability.Logger, payload string) {
	signal, err := DecodeSignal([]byte(payload))
	if err != nil {
		logger.WithError(err).Warn("ignoring invalidation signal")
		return
	}
	s.cache.Invalidate(signal.UserID)
	logger.WithField("target_user_id", signal.UserID).Debug("role invalidation applied")
}
