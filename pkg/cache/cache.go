package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface. Values are stored as JSON.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// TryLock takes key for ttl if nobody holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// GetTyped reads key into a new T.
func GetTyped[T any](ctx context.Context, c Service, key string) (*T, error) {
	var out T
	if err := c.Get(ctx, key, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
