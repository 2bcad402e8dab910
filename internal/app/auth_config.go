package app

import (
	"time"

	"github.com/charlesng35/otpauth/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}

	return auth.JWTConfig{
		Secret:   c.JWT.Secret,
		Issuer:   c.JWT.Issuer,
		TokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
// The cache is attached by the caller once the store is known.
func (c AuthConfig) SessionServiceConfig(cache auth.SessionCache) auth.SessionConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	cacheTTL := c.Session.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = auth.DefaultSessionCacheTTL
	}
	cacheTTL = min(cacheTTL, ttl, time.Hour)

	return auth.SessionConfig{
		TTL:      ttl,
		CacheTTL: cacheTTL,
		Cache:    cache,
	}
}
