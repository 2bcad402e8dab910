package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/charlesng35/otpauth/internal/models"
)

// DefaultTokenTTL defines the fallback validity period for session tokens.
const DefaultTokenTTL = 7 * 24 * time.Hour

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	Clock    func() time.Time
}

// TokenClaims represents the custom claims embedded in issued JWTs.
type TokenClaims struct {
	UserID   string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL returns the lifetime applied to new tokens.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// GenerateToken issues a signed JWT identifying the user. Every token carries
// a random jti so two tokens minted in the same second still differ.
func (s *JWTService) GenerateToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()
	claims := &TokenClaims{
		UserID:   user.ID,
		Name:     user.Name,
		Verified: user.IsVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if user.Email != nil {
		claims.Email = *user.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a signed JWT. Any failure yields nil.
func (s *JWTService) VerifyToken(tokenString string) *TokenClaims {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims TokenClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil
	}
	if claims.UserID == "" {
		return nil
	}
	return &claims
}
