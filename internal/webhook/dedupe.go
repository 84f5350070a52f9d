package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupe backs Dedupe with a Redis SETNX: the first caller to mark a
// key wins, later callers within the TTL window see it as already
// delivered.
type RedisDedupe struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDedupe wires a RedisDedupe to an already-connected client.
func NewRedisDedupe(client redis.UniversalClient, ttl time.Duration) *RedisDedupe {
	return &RedisDedupe{client: client, ttl: ttl}
}

// SeenRecently reports whether key was already marked within the TTL
// window, marking it if not. A Redis error is treated as "not seen" --
// a duplicate delivery is harmless (at-least-once is the documented
// contract), a dropped delivery is not.
func (d *RedisDedupe) SeenRecently(ctx context.Context, key string) bool {
	if d == nil || d.client == nil {
		return false
	}
	ok, err := d.client.SetNX(ctx, "webhook:dedupe:"+key, 1, d.ttl).Result()
	if err != nil {
		return false
	}
	return !ok
}
