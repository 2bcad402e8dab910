package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/crypto"
	apperrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/validator"
)

const (
	minPasswordLength = 6
	minNameLength     = 2
)

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// UpdateUserInput enumerates mutable user attributes. Nil fields are left
// untouched.
type UpdateUserInput struct {
	Name     *string
	Phone    *string
	Password *string
}

// SessionPurger removes every session of a user inside a transaction and
// keeps the session cache in step with the user table.
type SessionPurger interface {
	DeleteUserSessions(ctx context.Context, tx *gorm.DB, userID string) ([]string, error)
	EvictSessions(ctx context.Context, tokenHashes ...string)
	EvictUserSessions(ctx context.Context, userID string)
}

// UserOption customises the UserService.
type UserOption func(*UserService)

// WithSessionPurger lets Delete remove sessions through the session manager
// so cached entries are evicted as well.
func WithSessionPurger(purger SessionPurger) UserOption {
	return func(s *UserService) {
		s.sessions = purger
	}
}

// UserService manages the user lifecycle including password management.
type UserService struct {
	db       *gorm.DB
	sessions SessionPurger
	log      *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	svc := &UserService{
		db:  db,
		log: logger.WithModule("users"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Create provisions a verified user. Contact ownership is proven by the OTP
// flow, so new users are marked verified.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if len(name) < minNameLength {
		return nil, apperrors.NewBadRequest("Name must be at least 2 characters")
	}

	id := NewIdentifier(input.Email, input.Phone)
	if id.Empty() {
		return nil, apperrors.NewBadRequest("Email or phone is required")
	}

	existing, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflictFor(existing, id)
	}

	user := &models.User{
		Email:      optionalString(id.Email),
		Phone:      optionalString(id.Phone),
		Name:       name,
		IsVerified: true,
	}

	if input.Password != "" {
		hash, err := hashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = &hash
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("An account with this email or phone already exists")
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	s.log.Info("user created", zap.String("user_id", user.ID))
	return user, nil
}

// Find returns the user whose email or phone matches, or nil when none does.
func (s *UserService) Find(ctx context.Context, id Identifier) (*models.User, error) {
	ctx = ensureContext(ctx)
	if id.Empty() {
		return nil, nil
	}

	var user models.User
	err := id.scope(s.db.WithContext(ctx)).Order("created_at ASC").Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// VerifyPassword compares plain with the stored hash. A user without a
// password never matches.
func (s *UserService) VerifyPassword(plain string, hash *string) bool {
	if hash == nil || *hash == "" {
		return false
	}
	return crypto.VerifyPassword(*hash, plain)
}

// Update applies a partial update. At least one field must be supplied.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if len(name) < minNameLength {
			return nil, apperrors.NewBadRequest("Name must be at least 2 characters")
		}
		updates["name"] = name
	}
	if input.Phone != nil {
		phone := validator.NormalizePhone(*input.Phone)
		if phone == "" {
			updates["phone"] = nil
		} else {
			if !validator.IsPhone(phone) {
				return nil, apperrors.NewBadRequest("Invalid phone number")
			}
			updates["phone"] = phone
		}
	}
	if input.Password != nil {
		hash, err := hashPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		return nil, apperrors.NewBadRequest("No fields to update")
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if phone, ok := updates["phone"].(string); ok && (user.Phone == nil || *user.Phone != phone) {
		var taken int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("phone = ? AND id <> ?", phone, user.ID).
			Count(&taken).Error; err != nil {
			return nil, fmt.Errorf("user service: check phone: %w", err)
		}
		if taken > 0 {
			return nil, apperrors.NewConflict("Phone number is already registered")
		}
	}
	if updates["phone"] == nil && input.Phone != nil && user.Email == nil {
		return nil, apperrors.NewBadRequest("Email or phone is required")
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("Phone number is already registered")
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}
	if s.sessions != nil {
		s.sessions.EvictUserSessions(ctx, user.ID)
	}

	return s.GetByID(ctx, user.ID)
}

// ChangePassword replaces the password after checking the current one. Users
// without a password may set one by leaving current empty.
func (s *UserService) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.HasPassword() && !s.VerifyPassword(current, user.PasswordHash) {
		return apperrors.NewBadRequest("Current password is incorrect")
	}

	_, err = s.Update(ctx, user.ID, UpdateUserInput{Password: &next})
	return err
}

// Delete removes the user together with their sessions and stored codes in a
// single transaction.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var revoked []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.sessions != nil {
			hashes, err := s.sessions.DeleteUserSessions(ctx, tx, user.ID)
			if err != nil {
				return err
			}
			revoked = hashes
		} else if err := tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error; err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}

		contact := Identifier{}
		if user.Email != nil {
			contact.Email = *user.Email
		}
		if user.Phone != nil {
			contact.Phone = *user.Phone
		}
		if _, err := clearOTPs(tx, contact); err != nil {
			return err
		}

		if err := tx.Delete(&models.User{}, "id = ?", user.ID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("user service: delete user: %w", err)
	}
	if s.sessions != nil {
		s.sessions.EvictSessions(ctx, revoked...)
	}

	s.log.Info("user deleted", zap.String("user_id", user.ID))
	return nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperrors.NewBadRequest("Password must be at least 6 characters")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("user service: hash password: %w", err)
	}
	return hash, nil
}

func conflictFor(existing *models.User, id Identifier) error {
	if id.Email != "" && existing.Email != nil && *existing.Email == id.Email {
		return apperrors.NewConflict("Email is already registered")
	}
	return apperrors.NewConflict("Phone number is already registered")
}
