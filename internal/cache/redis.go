package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters of the Redis backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const (
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "otpauth:"
)

// RedisStore implements Store on top of go-redis. Keys are namespaced so the
// instance can be shared with other applications.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to Redis and verifies the connection so that
// misconfiguration is surfaced during application startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Address, err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping checks connectivity, used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrStoreNotInitialised
	}
	return s.client.Ping(ctx).Err()
}

// IncrementWithTTL increments the supplied key and sets the TTL on the first
// hit. It returns the current count and the remaining time-to-live.
func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil || s.client == nil {
		return 0, 0, ErrStoreNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}
	prefixedKey := prefixed(key)

	count, err := s.client.Incr(ctx, prefixedKey).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, prefixedKey, window).Err(); err != nil {
			return 0, 0, err
		}
	}

	ttl, err := s.client.PTTL(ctx, prefixedKey).Result()
	if err != nil {
		return count, window, nil
	}

	if ttl <= 0 {
		return count, window, nil
	}
	return count, ttl, nil
}

// Set stores a value with millisecond expiry semantics. A non-positive ttl
// keeps the key until deleted.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return ErrStoreNotInitialised
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, prefixed(key), value, ttl).Err()
}

// Get retrieves the value associated with a key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, ErrStoreNotInitialised
	}
	value, err := s.client.Get(ctx, prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes one or more keys, ignoring missing keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil {
		return ErrStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	prefixedKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixedKeys = append(prefixedKeys, prefixed(key))
	}
	return s.client.Del(ctx, prefixedKeys...).Err()
}

func prefixed(key string) string {
	normalized := normalizeKey(key)
	if strings.HasPrefix(normalized, redisKeyPrefix) {
		return normalized
	}
	return normalizeKey(redisKeyPrefix + normalized)
}

// normalizeKey collapses repeated colons so "a::b" and "a:b" share a key.
func normalizeKey(key string) string {
	if key == "" {
		return key
	}
	var builder strings.Builder
	builder.Grow(len(key))
	prevColon := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if ch == ':' {
			if prevColon {
				continue
			}
			prevColon = true
		} else {
			prevColon = false
		}
		builder.WriteByte(ch)
	}
	return builder.String()
}
