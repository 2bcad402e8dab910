package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/internal/notify"
	"github.com/charlesng35/otpauth/pkg/crypto"
	apperrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/metrics"
)

const (
	defaultOTPTTL      = 5 * time.Minute
	defaultOTPCooldown = 2 * time.Minute
	defaultOTPLength   = 6

	// InvalidOTPMessage is the only failure message Verify ever returns.
	InvalidOTPMessage = "Invalid, expired or already used code"
	validOTPMessage   = "Code verified successfully"
	canRequestMessage = "A new code can be requested"
)

// IssuedOTP is the result of persisting a new code.
type IssuedOTP struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// SendResult is returned once a code has been handed to the gateway.
type SendResult struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

// VerifyResult reports the outcome of a verification attempt. Business
// failures are reported through Valid, never through an error.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	OTPID   string `json:"otpId,omitempty"`
}

// CooldownStatus reports whether a new code may be requested.
type CooldownStatus struct {
	CanRequest       bool   `json:"canRequest"`
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remainingTime,omitempty"`
}

// OTPOption customises the OTPService.
type OTPOption func(*OTPService)

// WithOTPTTL overrides how long a code stays valid.
func WithOTPTTL(d time.Duration) OTPOption {
	return func(s *OTPService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithOTPCooldown overrides the minimum delay between two requests.
func WithOTPCooldown(d time.Duration) OTPOption {
	return func(s *OTPService) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithOTPLength overrides the number of digits in generated codes.
func WithOTPLength(n int) OTPOption {
	return func(s *OTPService) {
		if n > 0 {
			s.length = n
		}
	}
}

// WithOTPClock injects a custom time source.
func WithOTPClock(clock func() time.Time) OTPOption {
	return func(s *OTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithOTPCodeSource replaces the random code generator.
func WithOTPCodeSource(source func() (string, error)) OTPOption {
	return func(s *OTPService) {
		if source != nil {
			s.codes = source
		}
	}
}

// OTPService issues, verifies and expires one-time codes.
type OTPService struct {
	db       *gorm.DB
	gateway  notify.Gateway
	ttl      time.Duration
	cooldown time.Duration
	length   int
	now      func() time.Time
	codes    func() (string, error)
	log      *zap.Logger
}

// NewOTPService constructs an OTPService. The gateway may be nil when only
// Create and Verify are used.
func NewOTPService(db *gorm.DB, gateway notify.Gateway, opts ...OTPOption) (*OTPService, error) {
	if db == nil {
		return nil, errors.New("otp service: db is required")
	}

	svc := &OTPService{
		db:       db,
		gateway:  gateway,
		ttl:      defaultOTPTTL,
		cooldown: defaultOTPCooldown,
		length:   defaultOTPLength,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("otp"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.codes == nil {
		svc.codes = svc.GenerateCode
	}
	return svc, nil
}

// TTL returns the configured code lifetime.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// GenerateCode returns a uniformly random code of the configured length.
func (s *OTPService) GenerateCode() (string, error) {
	return crypto.GenerateNumericCode(s.length)
}

// Create invalidates every unused code for the identifier and purpose, then
// stores a fresh one. Both steps run in a single transaction.
func (s *OTPService) Create(ctx context.Context, id Identifier, channel models.OTPChannel, purpose models.OTPPurpose) (*IssuedOTP, error) {
	ctx = ensureContext(ctx)

	if err := validateChannelPurpose(channel, purpose); err != nil {
		return nil, err
	}
	recipient := id.For(channel)
	if recipient == "" {
		if channel == models.OTPChannelEmail {
			return nil, apperrors.NewBadRequest("Email is required for email delivery")
		}
		return nil, apperrors.NewBadRequest("Phone is required for SMS delivery")
	}

	code, err := s.codes()
	if err != nil {
		return nil, fmt.Errorf("otp service: generate code: %w", err)
	}

	now := s.now()
	record := &models.OTPRecord{
		Code:      code,
		Channel:   channel,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if channel == models.OTPChannelEmail {
		record.Email = optionalString(recipient)
	} else {
		record.Phone = optionalString(recipient)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invalidate := id.scope(tx.Model(&models.OTPRecord{})).
			Where("purpose = ? AND is_used = ?", purpose, false)
		if err := invalidate.Update("is_used", true).Error; err != nil {
			return fmt.Errorf("invalidate previous codes: %w", err)
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("otp service: create: %w", err)
	}

	metrics.OTPIssued.WithLabelValues(string(purpose), string(channel)).Inc()
	s.log.Debug("otp issued",
		zap.String("otp_id", record.ID),
		zap.String("purpose", string(purpose)),
		logger.Redact(recipient),
	)

	return &IssuedOTP{ID: record.ID, Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// Send creates a code and dispatches it through the gateway. A code that
// could not be delivered is deleted so it can never be verified.
func (s *OTPService) Send(ctx context.Context, id Identifier, channel models.OTPChannel, purpose models.OTPPurpose) (*SendResult, error) {
	ctx = ensureContext(ctx)
	if s.gateway == nil {
		return nil, errors.New("otp service: notification gateway is not configured")
	}

	issued, err := s.Create(ctx, id, channel, purpose)
	if err != nil {
		return nil, err
	}

	deliverErr := s.gateway.Deliver(ctx, notify.Notification{
		Channel:   channel,
		Recipient: id.For(channel),
		Code:      issued.Code,
		Purpose:   purpose,
		ExpiresIn: s.ttl,
	})
	if deliverErr != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := s.db.WithContext(cleanupCtx).Delete(&models.OTPRecord{}, "id = ?", issued.ID).Error; err != nil {
			s.log.Error("failed to roll back undelivered code", zap.String("otp_id", issued.ID), zap.Error(err))
		}
		return nil, apperrors.NewDelivery(deliverErr)
	}

	target := "email"
	if channel == models.OTPChannelPhone {
		target = "phone"
	}
	return &SendResult{
		Message:   fmt.Sprintf("Verification code sent to your %s", target),
		ExpiresIn: int(s.ttl / time.Second),
	}, nil
}

// Verify consumes the most recent live code matching the identifier, code and
// purpose. All failure modes share one message.
func (s *OTPService) Verify(ctx context.Context, id Identifier, code string, purpose models.OTPPurpose) (*VerifyResult, error) {
	ctx = ensureContext(ctx)

	invalid := &VerifyResult{Valid: false, Message: InvalidOTPMessage}
	if id.Empty() || code == "" || !purpose.Valid() {
		metrics.OTPVerifications.WithLabelValues(string(purpose), "invalid").Inc()
		return invalid, nil
	}

	now := s.now()
	var consumed *models.OTPRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.OTPRecord
		err := id.scope(tx).
			Where("code = ? AND purpose = ? AND is_used = ? AND expires_at > ?", code, purpose, false, now).
			Order("created_at DESC").
			Order("id DESC").
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.OTPRecord{}).
			Where("id = ? AND is_used = ?", record.ID, false).
			Updates(map[string]any{"is_used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			consumed = &record
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("otp service: verify: %w", err)
	}

	if consumed == nil {
		metrics.OTPVerifications.WithLabelValues(string(purpose), "invalid").Inc()
		return invalid, nil
	}

	metrics.OTPVerifications.WithLabelValues(string(purpose), "valid").Inc()
	return &VerifyResult{Valid: true, Message: validOTPMessage, OTPID: consumed.ID}, nil
}

// CanRequest applies the cooldown to the (identifier, channel, purpose)
// triple based on the most recent record regardless of its state.
func (s *OTPService) CanRequest(ctx context.Context, id Identifier, channel models.OTPChannel, purpose models.OTPPurpose) (*CooldownStatus, error) {
	ctx = ensureContext(ctx)

	if err := validateChannelPurpose(channel, purpose); err != nil {
		return nil, err
	}
	allowed := &CooldownStatus{CanRequest: true, Message: canRequestMessage}
	if id.Empty() {
		return allowed, nil
	}

	now := s.now()
	var latest models.OTPRecord
	err := id.scope(s.db.WithContext(ctx)).
		Where("channel = ? AND purpose = ? AND created_at > ?", channel, purpose, now.Add(-s.cooldown)).
		Order("created_at DESC").
		Order("id DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return allowed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("otp service: check cooldown: %w", err)
	}

	remaining := remainingSeconds(s.cooldown - now.Sub(latest.CreatedAt))
	if remaining <= 0 {
		return allowed, nil
	}
	return &CooldownStatus{
		CanRequest:       false,
		Message:          fmt.Sprintf("Please wait %d seconds before requesting another code", remaining),
		RemainingSeconds: remaining,
	}, nil
}

// CleanupExpired deletes unused codes whose expiry has passed. Used codes are
// kept for audit.
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).
		Where("expires_at < ? AND is_used = ?", s.now(), false).
		Delete(&models.OTPRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("otp service: cleanup expired: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Info("expired codes removed", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// ClearFor deletes every code stored for the identifier.
func (s *OTPService) ClearFor(ctx context.Context, id Identifier) (int64, error) {
	ctx = ensureContext(ctx)
	return clearOTPs(s.db.WithContext(ctx), id)
}

func clearOTPs(tx *gorm.DB, id Identifier) (int64, error) {
	if id.Empty() {
		return 0, nil
	}
	res := id.scope(tx).Delete(&models.OTPRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("otp service: clear codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func validateChannelPurpose(channel models.OTPChannel, purpose models.OTPPurpose) error {
	if !channel.Valid() {
		return apperrors.NewBadRequest("Type must be email or phone")
	}
	if !purpose.Valid() {
		return apperrors.NewBadRequest("Purpose must be login, register or reset")
	}
	return nil
}

// remainingSeconds rounds a positive duration up to whole seconds.
func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
