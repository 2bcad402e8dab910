package cache

import (
	"context"
	"errors"
	"time"
)

// ErrStoreNotInitialised is returned when a nil store is used.
var ErrStoreNotInitialised = errors.New("cache: store not initialised")

// Store represents a shared cache interface used across the application.
// The rate limiter counts requests with IncrementWithTTL and the session
// cache keeps short lived profile snapshots with Set and Get.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
