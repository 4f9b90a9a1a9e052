// Package invalidation propagates role changes to every replica's cache.
//
// Notifier is handed to the admin handlers as their rbac.Invalidator. It
// evicts the user from the local cache before returning and then publishes a
// Signal on a Redis channel. RedisSubscriber, running on every replica,
// applies received signals to its own cache:
//
//	client, err := invalidation.NewRedisClient(ctx, cfg.RedisURL)
//	notifier := invalidation.NewNotifier(cache, invalidation.NewRedisPublisher(client, cfg.Channel))
//	go invalidation.NewRedisSubscriber(client, cfg.Channel, cache).Run(ctx)
//
// Redis pub/sub is fire and forget. A replica that was disconnected empties
// its whole cache when it subscribes again, and the cache TTL bounds how long
// a missed signal can matter.
package invalidation
