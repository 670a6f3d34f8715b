package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"image-annotation-service/internal/logger"
)

// Cache wraps a redis client.  The client may be nil when redis is not
// available; every method degrades to a no-op so the store keeps working
// without it.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// NewCache connects to redis at addr.  A failed ping leaves the cache
// disabled rather than failing startup.
func NewCache(addr string) *Cache {
	log := logger.GetGlobalLogger().WithComponent("redis")
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Warn().Err(err).Msg("Redis not available, running without cache")
		return &Cache{log: log}
	}
	log.Info().Str("addr", addr).Msg("Redis connected")
	return &Cache{client: client, log: log}
}

// Disabled reports whether the cache is a no-op
func (c *Cache) Disabled() bool {
	return c == nil || c.client == nil
}

// Get fetches key into dest, returning whether it was present
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.Disabled() {
		return false, nil
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under key with a TTL
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.Disabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache value")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to set cache value")
	}
}

// Delete removes a key
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.Disabled() {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to delete cache key")
	}
}

// Close shuts the client down
func (c *Cache) Close() {
	if c.Disabled() {
		return
	}
	_ = c.client.Close()
}
