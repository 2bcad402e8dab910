package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/models"
	apperrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/metrics"
)

// SessionIssuer signs tokens and manages the sessions backing them.
type SessionIssuer interface {
	Issue(ctx context.Context, user *models.User, meta auth.SessionMetadata) (string, *models.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// OTPRequest asks for a code to be sent over Channel.
type OTPRequest struct {
	Email   string
	Phone   string
	Channel models.OTPChannel
	Purpose models.OTPPurpose
}

// LoginInput carries the credentials of a login attempt. Password is only
// required for users that have one.
type LoginInput struct {
	Email    string
	Phone    string
	Password string
	OTPCode  string
	Channel  models.OTPChannel
	Meta     auth.SessionMetadata
}

// RegisterInput carries the details of a new account.
type RegisterInput struct {
	Name    string
	Email   string
	Phone   string
	OTPCode string
	Channel models.OTPChannel
	Meta    auth.SessionMetadata
}

// VerifyInput consumes a code outside of login and registration.
type VerifyInput struct {
	Email   string
	Phone   string
	OTPCode string
	Purpose models.OTPPurpose
	Meta    auth.SessionMetadata
}

// AuthResult is returned once a session has been issued.
type AuthResult struct {
	User  *models.UserProfile `json:"user"`
	Token string              `json:"token"`
}

// VerifyOutcome describes a successful verification. Token and User are only
// set for login codes.
type VerifyOutcome struct {
	Message string              `json:"message"`
	OTPID   string              `json:"otpId,omitempty"`
	Token   string              `json:"token,omitempty"`
	User    *models.UserProfile `json:"user,omitempty"`
}

// AccountService orchestrates codes, users and sessions for the auth flows.
type AccountService struct {
	otps     *OTPService
	users    *UserService
	sessions SessionIssuer
	log      *zap.Logger
}

// NewAccountService wires the account flows together.
func NewAccountService(otps *OTPService, users *UserService, sessions SessionIssuer) (*AccountService, error) {
	switch {
	case otps == nil:
		return nil, errors.New("account service: otp service is required")
	case users == nil:
		return nil, errors.New("account service: user service is required")
	case sessions == nil:
		return nil, errors.New("account service: session issuer is required")
	}
	return &AccountService{
		otps:     otps,
		users:    users,
		sessions: sessions,
		log:      logger.WithModule("accounts"),
	}, nil
}

// RequestOTP sends a code after checking that the account exists for login
// codes and that the cooldown has elapsed.
func (s *AccountService) RequestOTP(ctx context.Context, req OTPRequest) (*SendResult, error) {
	ctx = ensureContext(ctx)

	id := NewIdentifier(req.Email, req.Phone)
	if err := validateChannelPurpose(req.Channel, req.Purpose); err != nil {
		return nil, err
	}
	if id.For(req.Channel) == "" {
		return nil, contactRequired(req.Channel)
	}

	if req.Purpose == models.OTPPurposeLogin {
		user, err := s.users.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNoAccountForContact
		}
	}

	status, err := s.otps.CanRequest(ctx, id, req.Channel, req.Purpose)
	if err != nil {
		return nil, err
	}
	if !status.CanRequest {
		return nil, apperrors.NewRateLimited(status.Message).WithDetail("remainingTime", status.RemainingSeconds)
	}

	result, err := s.otps.Send(ctx, id, req.Channel, req.Purpose)
	if err != nil {
		return nil, err
	}
	s.log.Info("verification code sent",
		zap.String("channel", string(req.Channel)),
		zap.String("purpose", string(req.Purpose)),
		logger.Redact(id.For(req.Channel)),
	)
	return result, nil
}

// CodeStatus reports whether a new code may be requested for the contact.
func (s *AccountService) CodeStatus(ctx context.Context, req OTPRequest) (*CooldownStatus, error) {
	id := NewIdentifier(req.Email, req.Phone)
	if err := validateChannelPurpose(req.Channel, req.Purpose); err != nil {
		return nil, err
	}
	if id.For(req.Channel) == "" {
		return nil, contactRequired(req.Channel)
	}
	return s.otps.CanRequest(ctx, id, req.Channel, req.Purpose)
}

// Login authenticates with a login code and, for users that set one, their
// password.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	id := NewIdentifier(input.Email, input.Phone)
	if id.Empty() {
		return nil, apperrors.NewBadRequest("Email or phone is required")
	}
	if !input.Channel.Valid() {
		return nil, apperrors.NewBadRequest("Type must be email or phone")
	}

	user, err := s.users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.recordAttempt("otp", false)
		return nil, apperrors.ErrInvalidCredentials
	}

	method := "otp"
	switch {
	case input.Password != "":
		method = "password"
		if !s.users.VerifyPassword(input.Password, user.PasswordHash) {
			s.recordAttempt(method, false)
			return nil, apperrors.ErrInvalidCredentials
		}
	case user.HasPassword():
		return nil, apperrors.NewBadRequest("Password is required for this account")
	}

	if err := s.consume(ctx, id, input.OTPCode, models.OTPPurposeLogin); err != nil {
		s.recordAttempt(method, false)
		return nil, err
	}

	result, err := s.issue(ctx, user, input.Meta)
	if err != nil {
		return nil, err
	}
	s.recordAttempt(method, true)
	s.log.Info("user logged in", zap.String("user_id", user.ID), zap.String("method", method))
	return result, nil
}

// Register verifies a registration code and creates the account.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	id := NewIdentifier(input.Email, input.Phone)
	if !input.Channel.Valid() {
		return nil, apperrors.NewBadRequest("Type must be email or phone")
	}
	if id.For(input.Channel) == "" {
		return nil, contactRequired(input.Channel)
	}
	if len(strings.TrimSpace(input.Name)) < minNameLength {
		return nil, apperrors.NewBadRequest("Name must be at least 2 characters")
	}

	if err := s.consume(ctx, id, input.OTPCode, models.OTPPurposeRegister); err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, CreateUserInput{Name: input.Name, Email: id.Email, Phone: id.Phone})
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, input.Meta)
}

// VerifyOTP consumes a code. Login codes also start a session.
func (s *AccountService) VerifyOTP(ctx context.Context, input VerifyInput) (*VerifyOutcome, error) {
	ctx = ensureContext(ctx)

	id := NewIdentifier(input.Email, input.Phone)
	if id.Empty() {
		return nil, apperrors.NewBadRequest("Email or phone is required")
	}
	if !input.Purpose.Valid() {
		return nil, apperrors.NewBadRequest("Invalid purpose")
	}

	result, err := s.otps.Verify(ctx, id, input.OTPCode, input.Purpose)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperrors.NewBadRequest(result.Message)
	}

	outcome := &VerifyOutcome{Message: result.Message, OTPID: result.OTPID}
	if input.Purpose != models.OTPPurposeLogin {
		return outcome, nil
	}

	user, err := s.users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoAccountForContact
	}
	issued, err := s.issue(ctx, user, input.Meta)
	if err != nil {
		return nil, err
	}
	s.recordAttempt("otp", true)
	outcome.Token = issued.Token
	outcome.User = issued.User
	outcome.OTPID = ""
	return outcome, nil
}

// Logout revokes the session behind token.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ensureContext(ctx), token)
}

func (s *AccountService) consume(ctx context.Context, id Identifier, code string, purpose models.OTPPurpose) error {
	result, err := s.otps.Verify(ctx, id, strings.TrimSpace(code), purpose)
	if err != nil {
		return err
	}
	if !result.Valid {
		return apperrors.NewBadRequest(result.Message)
	}
	return nil
}

func (s *AccountService) issue(ctx context.Context, user *models.User, meta auth.SessionMetadata) (*AuthResult, error) {
	token, _, err := s.sessions.Issue(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user.Profile(), Token: token}, nil
}

func (s *AccountService) recordAttempt(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	metrics.AuthAttempts.WithLabelValues(method, result).Inc()
}

func contactRequired(channel models.OTPChannel) error {
	if channel == models.OTPChannelPhone {
		return apperrors.NewBadRequest("Phone is required for SMS delivery")
	}
	return apperrors.NewBadRequest("Email is required for email delivery")
}
