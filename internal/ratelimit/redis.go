package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments where several
// gateway instances must share one set of window counters. Each window gets
// its own key (suffixed with the window start), so INCR alone is the atomic
// check-and-update: a new window simply starts from a fresh key, and expired
// windows are collected by Redis key expiry rather than a janitor.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces the keys; empty
// defaults to "skylink:rl".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "skylink:rl"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Incr implements Store.
func (s *RedisStore) Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	// The subject key is caller-supplied and may itself contain ":", so it is
	// escaped to keep it from aliasing another subject's counter.
	redisKey := fmt.Sprintf("%s:%s:%d", s.prefix, url.QueryEscape(key), windowStart.UnixNano())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// One extra second covers clock skew between instances.
	pipe.PExpire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return incr.Val(), nil
}
