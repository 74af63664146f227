package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved role permission maps.
type Cache interface {
	Get(ctx context.Context, role string) (map[string][]string, bool)
	Set(ctx context.Context, role string, resolved map[string][]string)
	Invalidate(ctx context.Context, role string)
}

// RedisCache caches resolved maps in redis with a TTL. All failures degrade
// to a cache miss; the database stays authoritative.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs the cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(role string) string {
	return fmt.Sprintf("permissions:role:%s", role)
}

// Get returns the cached map for the role, if present.
func (c *RedisCache) Get(ctx context.Context, role string) (map[string][]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKey(role)).Bytes()
	if err != nil {
		return nil, false
	}
	var resolved map[string][]string
	if err := json.Unmarshal(data, &resolved); err != nil {
		return nil, false
	}
	return resolved, true
}

// Set stores the resolved map.
func (c *RedisCache) Set(ctx context.Context, role string, resolved map[string][]string) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(role), data, c.ttl).Err()
}

// Invalidate drops the cached map after a catalog write.
func (c *RedisCache) Invalidate(ctx context.Context, role string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, cacheKey(role)).Err()
}
