package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed Cache: a thin JSON-marshaling wrapper
// around a single key namespace, TTL instead of explicit invalidation
// since search results have no generation counter to key off.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache wires a RedisCache to an already-connected client.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(k string) string { return "search:cache:" + k }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]Hit, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var hits []Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, false
	}
	return hits, true
}

// Set implements Cache. Marshal failures are swallowed: a cache miss next
// read is harmless, unlike a failed search.
func (c *RedisCache) Set(ctx context.Context, key string, hits []Hit) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(key), data, c.ttl)
}
