package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

// KeyedStore is the shared state backing the rate limiter and abuse guard.
// The memory implementation is only suitable for single instance deployments;
// multi instance deployments must use the Redis implementation so that limits
// are enforced consistently across instances.
type KeyedStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error

	// GC removes expired entries.  The Redis implementation relies on key
	// TTLs and treats this as a no-op.
	GC()
}
