package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/otpauth/internal/models"
)

// DatabaseStore implements the cache Store interface using the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseStoreOption configures a DatabaseStore.
type DatabaseStoreOption func(*DatabaseStore)

// WithDatabaseClock overrides the time source used for expiry decisions.
func WithDatabaseClock(clock func() time.Time) DatabaseStoreOption {
	return func(s *DatabaseStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseStoreOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IncrementWithTTL atomically increments a counter for the supplied key. The
// window starts with the first hit and is not extended by later hits.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, ErrStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyEquals(key)).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			expiry = now.Add(window)
			entry = models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.After(now) {
			count = 1
			expiry = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
			expiry = entry.ExpiresAt
		}
		entry.Value = []byte(strconv.FormatInt(count, 10))
		entry.ExpiresAt = expiry

		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	expiry := time.Time{}
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return ErrStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return s.db.WithContext(ctx).
		Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).
		Delete(&models.CacheEntry{}).Error
}

// PurgeExpired removes entries whose expiry has passed. Entries without an
// expiry are kept.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, ErrStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

// keyEquals builds a quoted predicate; KEY is reserved in MySQL.
func keyEquals(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
