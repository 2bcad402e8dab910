package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/otpauth/internal/cache"
	"github.com/charlesng35/otpauth/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:"

// CachedSession is the snapshot kept in front of the sessions table.
type CachedSession struct {
	SessionID string              `json:"sessionId"`
	ExpiresAt time.Time           `json:"expiresAt"`
	User      *models.UserProfile `json:"user"`
}

// NewStoreSessionCache wraps a cache.Store (database or Redis) inside a
// SessionCache implementation.
func NewStoreSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, tokenHash string) (*CachedSession, error) {
	key := cacheKey(tokenHash)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry CachedSession
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	if entry.User == nil {
		return nil, errSessionCacheMiss
	}
	return &entry, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, tokenHash string, entry *CachedSession, ttl time.Duration) error {
	if entry == nil || entry.User == nil {
		return errors.New("session cache: entry is nil")
	}
	key := cacheKey(tokenHash)
	if key == "" {
		return errors.New("session cache: token hash missing")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		return nil
	}

	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, tokenHashes ...string) error {
	keys := make([]string, 0, len(tokenHashes))
	for _, hash := range tokenHashes {
		if key := cacheKey(hash); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

func cacheKey(tokenHash string) string {
	hash := strings.TrimSpace(tokenHash)
	if hash == "" {
		return ""
	}
	return sessionCacheKeyPrefix + hash
}
