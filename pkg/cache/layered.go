package cache

import (
	"context"
	"time"
)

// LayeredCache reads through a small in-process L1 in front of Redis.
// Locks and counters always go to Redis so every replica sees them.
type LayeredCache struct {
	mem   *MemoryCache
	redis *RedisCache
	l1TTL time.Duration
}

// NewLayeredCache creates a layered cache. l1TTL bounds how stale a
// replica's local copy may be.
func NewLayeredCache(redisCache *RedisCache, l1Size int, l1TTL time.Duration) *LayeredCache {
	if l1Size <= 0 {
		l1Size = 1000
	}
	if l1TTL <= 0 {
		l1TTL = 5 * time.Second
	}
	return &LayeredCache{
		mem:   NewMemoryCache(WithMemoryMaxSize(l1Size)),
		redis: redisCache,
		l1TTL: l1TTL,
	}
}

var _ Service = (*LayeredCache)(nil)

func (lc *LayeredCache) l1Expiry(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.l1TTL {
		return expiration
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, lc.l1Expiry(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	var raw []byte
	if err := lc.redis.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.redis.Exists(ctx, keys...)
}

func (lc *LayeredCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	return lc.redis.Increment(ctx, key, expiration)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redis.Unlock(ctx, key)
}

func (lc *LayeredCache) Close() error {
	return lc.mem.Close()
}
