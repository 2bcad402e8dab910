package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/crypto"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/metrics"
)

const (
	// DefaultSessionTTL is the fallback lifetime of a server-side session.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultSessionCacheTTL bounds how long a cached session snapshot is trusted.
	DefaultSessionCacheTTL = time.Minute
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL      time.Duration
	CacheTTL time.Duration
	Clock    func() time.Time
	Cache    SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// ErrSessionInvalidToken is returned when the supplied token is blank.
var ErrSessionInvalidToken = errors.New("session: invalid token")

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session lookups keyed by token digest.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*CachedSession, error)
	Set(ctx context.Context, tokenHash string, entry *CachedSession, ttl time.Duration) error
	Delete(ctx context.Context, tokenHashes ...string) error
}

// SessionService persists sessions and is the authority on whether a token is
// still live. Deleting the row revokes the token even before its JWT expiry.
type SessionService struct {
	db       *gorm.DB
	jwt      *JWTService
	ttl      time.Duration
	cacheTTL time.Duration
	now      func() time.Time
	cache    SessionCache
	log      *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultSessionCacheTTL
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		jwt:      jwtService,
		ttl:      ttl,
		cacheTTL: cacheTTL,
		now:      clock,
		cache:    cfg.Cache,
		log:      logger.WithModule("sessions"),
	}, nil
}

// JWT exposes the token service used to sign session tokens.
func (s *SessionService) JWT() *JWTService {
	return s.jwt
}

// Issue signs a token for user and records the matching session.
func (s *SessionService) Issue(ctx context.Context, user *models.User, meta SessionMetadata) (string, *models.Session, error) {
	token, err := s.jwt.GenerateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate token: %w", err)
	}
	session, err := s.CreateSession(ctx, user.ID, token, meta)
	if err != nil {
		return "", nil, err
	}
	return token, session, nil
}

// CreateSession stores the digest of token for userID.
func (s *SessionService) CreateSession(ctx context.Context, userID, token string, meta SessionMetadata) (*models.Session, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrSessionInvalidToken
	}

	now := s.now().UTC()
	session := &models.Session{
		UserID:    userID,
		TokenHash: crypto.HashToken(token),
		IPAddress: strings.TrimSpace(meta.IPAddress),
		UserAgent: truncate(strings.TrimSpace(meta.UserAgent), 512),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()
	return session, nil
}

// VerifySession returns the profile of the token's owner, or nil when the
// token is invalid, unknown or expired. Expired rows are deleted on sight.
func (s *SessionService) VerifySession(ctx context.Context, token string) (*models.UserProfile, error) {
	ctx = ensureContext(ctx)

	claims := s.jwt.VerifyToken(token)
	if claims == nil {
		return nil, nil
	}

	hash := crypto.HashToken(token)
	now := s.now().UTC()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, hash)
		switch {
		case err == nil && cached.ExpiresAt.After(now) && cached.User.ID == claims.UserID:
			return cached.User, nil
		case err != nil && !errors.Is(err, errSessionCacheMiss):
			s.log.Warn("session cache lookup failed", zap.Error(err))
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Preload("User").Where("token_hash = ?", hash).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if session.Expired(now) {
		if err := s.deleteByHash(ctx, s.db.WithContext(ctx), hash); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if session.User == nil || session.UserID != claims.UserID {
		return nil, nil
	}

	profile := session.User.Profile()
	if s.cache != nil {
		ttl := s.cacheTTL
		if remaining := session.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
		entry := &CachedSession{SessionID: session.ID, ExpiresAt: session.ExpiresAt, User: profile}
		if err := s.cache.Set(ctx, hash, entry, ttl); err != nil {
			s.log.Warn("session cache store failed", zap.Error(err))
		} else if gone, err := s.sessionGone(ctx, hash); err != nil {
			return nil, err
		} else if gone {
			// A delete raced the lookup; drop the entry it could not see.
			s.evict(ctx, hash)
			return nil, nil
		}
	}
	return profile, nil
}

// sessionGone reports whether the row for hash is gone.
func (s *SessionService) sessionGone(ctx context.Context, hash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("token_hash = ?", hash).Count(&count).Error; err != nil {
		return false, fmt.Errorf("session service: recheck session: %w", err)
	}
	return count == 0, nil
}

// DeleteSession removes the session for token. Unknown tokens are ignored.
func (s *SessionService) DeleteSession(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.deleteByHash(ctx, s.db.WithContext(ctx), crypto.HashToken(token))
}

// DeleteUserSessions removes every session of userID using tx and returns
// the digests of the removed tokens. When tx belongs to a caller's
// transaction the cache is left alone; the caller evicts the returned
// digests with EvictSessions once the transaction has committed.
func (s *SessionService) DeleteUserSessions(ctx context.Context, tx *gorm.DB, userID string) ([]string, error) {
	ctx = ensureContext(ctx)
	owned := tx == nil
	if owned {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	var hashes []string
	if err := tx.Model(&models.Session{}).Where("user_id = ?", userID).Pluck("token_hash", &hashes).Error; err != nil {
		return nil, fmt.Errorf("session service: list user sessions: %w", err)
	}

	result := tx.Where("user_id = ?", userID).Delete(&models.Session{})
	if result.Error != nil {
		return nil, fmt.Errorf("session service: delete user sessions: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	if owned {
		s.evict(ctx, hashes...)
	}
	return hashes, nil
}

// EvictSessions drops cached snapshots for the given token digests.
func (s *SessionService) EvictSessions(ctx context.Context, tokenHashes ...string) {
	s.evict(ensureContext(ctx), tokenHashes...)
}

// EvictUserSessions drops the cached snapshots of every live session of
// userID so the next lookup reloads the user's profile.
func (s *SessionService) EvictUserSessions(ctx context.Context, userID string) {
	ctx = ensureContext(ctx)
	if s.cache == nil {
		return
	}
	var hashes []string
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("user_id = ?", userID).Pluck("token_hash", &hashes).Error; err != nil {
		s.log.Warn("session cache eviction failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.evict(ctx, hashes...)
}

// CleanupExpired removes expired sessions and updates active session metrics accordingly.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()
	db := s.db.WithContext(ctx)

	var hashes []string
	if s.cache != nil {
		if err := db.Model(&models.Session{}).Where("expires_at <= ?", now).Pluck("token_hash", &hashes).Error; err != nil {
			return 0, fmt.Errorf("session service: list expired sessions: %w", err)
		}
	}

	result := db.Where("expires_at <= ?", now).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.evict(ctx, hashes...)
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *SessionService) deleteByHash(ctx context.Context, db *gorm.DB, hash string) error {
	result := db.Where("token_hash = ?", hash).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: delete session: %w", result.Error)
	}
	s.evict(ctx, hash)
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return nil
}

func (s *SessionService) evict(ctx context.Context, hashes ...string) {
	if s.cache == nil || len(hashes) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, hashes...); err != nil {
		s.log.Warn("session cache eviction failed", zap.Error(err))
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
