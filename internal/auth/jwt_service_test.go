package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/otpauth/internal/models"
)

func testUser(id string) *models.User {
	email := id + "@example.com"
	user := &models.User{Email: &email, Name: "Test " + id, IsVerified: true}
	user.ID = id
	return user
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")

	_, err = NewJWTService(JWTConfig{Secret: "   "})
	require.Error(t, err)
}

func TestGenerateAndVerifyToken(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:   "super-secret",
		Issuer:   "otpauth",
		TokenTTL: time.Hour,
		Clock:    func() time.Time { return current },
	})
	require.NoError(t, err)

	token, err := svc.GenerateToken(testUser("user-123"))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims := svc.VerifyToken(token)
	require.NotNil(t, claims)
	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, "user-123", claims.Subject)
	require.Equal(t, "user-123@example.com", claims.Email)
	require.Equal(t, "Test user-123", claims.Name)
	require.True(t, claims.Verified)
	require.Equal(t, "otpauth", claims.Issuer)
	require.NotEmpty(t, claims.ID)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestGenerateTokenDefaultsToSevenDays(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	require.Equal(t, 7*24*time.Hour, svc.TTL())
}

func TestGenerateTokenUniqueWithinSameSecond(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{Secret: "secret", Clock: func() time.Time { return current }})
	require.NoError(t, err)

	user := testUser("same")
	first, err := svc.GenerateToken(user)
	require.NoError(t, err)
	second, err := svc.GenerateToken(user)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestGenerateTokenRequiresUserID(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)

	_, err = svc.GenerateToken(nil)
	require.Error(t, err)
	_, err = svc.GenerateToken(&models.User{Name: "nobody"})
	require.Error(t, err)
}

func TestVerifyTokenRejectsInvalidInput(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "otpauth", TokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)
	token, err := issuer.GenerateToken(testUser("user"))
	require.NoError(t, err)

	other, err := NewJWTService(JWTConfig{Secret: "other-secret", Issuer: "otpauth", Clock: clock})
	require.NoError(t, err)
	require.Nil(t, other.VerifyToken(token), "signature mismatch")

	foreign, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "someone-else", Clock: clock})
	require.NoError(t, err)
	require.Nil(t, foreign.VerifyToken(token), "issuer mismatch")

	require.Nil(t, issuer.VerifyToken(""))
	require.Nil(t, issuer.VerifyToken("not-a-jwt"))

	current = current.Add(2 * time.Minute)
	require.Nil(t, issuer.VerifyToken(token), "expired")
}
