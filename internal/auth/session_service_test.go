package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/cache"
	"github.com/charlesng35/otpauth/internal/database/testutil"
	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/crypto"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupSessionService(t *testing.T, withCache bool) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	jwtSvc, err := NewJWTService(JWTConfig{Secret: "session-secret", Issuer: "otpauth", TokenTTL: 2 * time.Hour, Clock: clock.Now})
	require.NoError(t, err)

	cfg := SessionConfig{TTL: time.Hour, Clock: clock.Now}
	if withCache {
		store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(clock.Now))
		cfg.Cache = NewStoreSessionCache(store)
	}

	svc, err := NewSessionService(db, jwtSvc, cfg)
	require.NoError(t, err)
	return db, svc, clock
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	email := name + "@example.com"
	user := &models.User{Email: &email, Name: name, IsVerified: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCreateSessionStoresTokenDigest(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "creator")

	token, session, err := svc.Issue(context.Background(), user, SessionMetadata{IPAddress: " 10.0.0.1 ", UserAgent: "unit-test"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(token), reloaded.TokenHash)
	require.NotEqual(t, token, reloaded.TokenHash)
	require.Equal(t, "10.0.0.1", reloaded.IPAddress)
	require.Equal(t, "unit-test", reloaded.UserAgent)
	require.True(t, reloaded.ExpiresAt.Equal(clock.Now().Add(time.Hour)))
}

func TestCreateSessionValidatesInput(t *testing.T) {
	_, svc, _ := setupSessionService(t, false)

	_, err := svc.CreateSession(context.Background(), "", "token", SessionMetadata{})
	require.Error(t, err)
	_, err = svc.CreateSession(context.Background(), "user", " ", SessionMetadata{})
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestVerifySessionReturnsProfile(t *testing.T) {
	db, svc, _ := setupSessionService(t, false)
	user := createTestUser(t, db, "verifier")

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, user.ID, profile.ID)
	require.Equal(t, "verifier@example.com", *profile.Email)
	require.True(t, profile.IsVerified)
}

func TestVerifySessionRejectsUnknownAndForgedTokens(t *testing.T) {
	db, svc, _ := setupSessionService(t, false)
	user := createTestUser(t, db, "forged")

	// Valid signature but no session row.
	token, err := svc.JWT().GenerateToken(user)
	require.NoError(t, err)
	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, profile)

	profile, err = svc.VerifySession(context.Background(), "garbage")
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestVerifySessionDeletesExpiredRow(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "expired")

	token, session, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	// JWT lives for two hours, the session row for one.
	clock.Advance(90 * time.Minute)

	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, profile)

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestDeleteSessionRevokesToken(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		db, svc, _ := setupSessionService(t, withCache)
		user := createTestUser(t, db, "logout")

		token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
		require.NoError(t, err)

		profile, err := svc.VerifySession(context.Background(), token)
		require.NoError(t, err)
		require.NotNil(t, profile)

		require.NoError(t, svc.DeleteSession(context.Background(), token))
		profile, err = svc.VerifySession(context.Background(), token)
		require.NoError(t, err)
		require.Nil(t, profile, "cache=%v", withCache)

		// Idempotent.
		require.NoError(t, svc.DeleteSession(context.Background(), token))
		require.NoError(t, svc.DeleteSession(context.Background(), ""))
	}
}

func TestVerifySessionUsesCache(t *testing.T) {
	db, svc, _ := setupSessionService(t, true)
	user := createTestUser(t, db, "cached")

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, profile)

	var entries int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&entries).Error)
	require.EqualValues(t, 1, entries)

	// Served from the cache while the snapshot is fresh.
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("name", "renamed").Error)
	profile, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "cached", profile.Name)
}

func TestCachedSessionExpiresWithRow(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	user := createTestUser(t, db, "bounded")

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(59*time.Minute + 30*time.Second)
	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, profile)

	clock.Advance(time.Minute)
	profile, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestDeleteUserSessionsInTransaction(t *testing.T) {
	db, svc, _ := setupSessionService(t, true)
	user := createTestUser(t, db, "cascade")
	other := createTestUser(t, db, "bystander")

	first, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)
	_, _, err = svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)
	kept, _, err := svc.Issue(context.Background(), other, SessionMetadata{})
	require.NoError(t, err)

	_, err = svc.VerifySession(context.Background(), first)
	require.NoError(t, err)

	var removed []string
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = svc.DeleteUserSessions(context.Background(), tx, user.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, removed, 2)
	require.Contains(t, removed, crypto.HashToken(first))

	// Eviction waits for the caller's commit.
	_, err = svc.cache.Get(context.Background(), crypto.HashToken(first))
	require.NoError(t, err)
	svc.EvictSessions(context.Background(), removed...)

	profile, err := svc.VerifySession(context.Background(), first)
	require.NoError(t, err)
	require.Nil(t, profile)

	profile, err = svc.VerifySession(context.Background(), kept)
	require.NoError(t, err)
	require.NotNil(t, profile)
}

func TestCleanupExpiredSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "cleanup")

	_, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	live, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	profile, err := svc.VerifySession(context.Background(), live)
	require.NoError(t, err)
	require.NotNil(t, profile)
}

func TestDeleteUserSessionsWithoutTransactionEvicts(t *testing.T) {
	db, svc, _ := setupSessionService(t, true)
	user := createTestUser(t, db, "solo")

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)
	_, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)

	removed, err := svc.DeleteUserSessions(context.Background(), nil, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{crypto.HashToken(token)}, removed)

	_, err = svc.cache.Get(context.Background(), crypto.HashToken(token))
	require.ErrorIs(t, err, errSessionCacheMiss)
}

func TestEvictUserSessionsRefreshesProfile(t *testing.T) {
	db, svc, _ := setupSessionService(t, true)
	user := createTestUser(t, db, "renamed")

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)
	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "renamed", profile.Name)

	require.NoError(t, db.Model(user).Update("name", "Renamed Again").Error)
	profile, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "renamed", profile.Name)

	svc.EvictUserSessions(context.Background(), user.ID)
	profile, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "Renamed Again", profile.Name)
}

// racingCache deletes the session row between the lookup and the cache write,
// the way a concurrent logout would.
type racingCache struct {
	SessionCache
	db *gorm.DB
}

func (c *racingCache) Set(ctx context.Context, tokenHash string, entry *CachedSession, ttl time.Duration) error {
	if err := c.db.Where("token_hash = ?", tokenHash).Delete(&models.Session{}).Error; err != nil {
		return err
	}
	return c.SessionCache.Set(ctx, tokenHash, entry, ttl)
}

func TestVerifySessionDropsEntryWrittenAfterLogout(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	user := createTestUser(t, db, "raced")
	svc.cache = &racingCache{SessionCache: svc.cache, db: db}

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	profile, err := svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, profile)

	_, err = svc.cache.Get(context.Background(), crypto.HashToken(token))
	require.ErrorIs(t, err, errSessionCacheMiss)

	clock.Advance(time.Second)
	profile, err = svc.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, profile)
}
