package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/response"
)

const (
	CtxUserIDKey = "userID"
	CtxUserKey   = "user"
	CtxTokenKey  = "authToken"
)

// TokenVerifier checks the signature and expiry of a bearer token.
type TokenVerifier interface {
	VerifyToken(token string) bool
}

// SessionVerifier resolves a bearer token to the owner of a live session.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*models.UserProfile, error)
}

type jwtVerifier struct {
	jwt *iauth.JWTService
}

// JWTVerifier adapts the JWT service to the TokenVerifier pre-filter.
func JWTVerifier(jwt *iauth.JWTService) TokenVerifier {
	if jwt == nil {
		return nil
	}
	return jwtVerifier{jwt: jwt}
}

func (v jwtVerifier) VerifyToken(token string) bool {
	return v.jwt.VerifyToken(token) != nil
}

// Auth enforces bearer authentication. The signature check rejects garbage
// cheaply; the session lookup is the authority, so logged out tokens fail
// even while their signature is still valid.
func Auth(tokens TokenVerifier, sessions SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok || (tokens != nil && !tokens.VerifyToken(token)) {
			unauthorized(c, "Access token is required")
			return
		}

		user, err := sessions.VerifySession(c.Request.Context(), token)
		if err != nil {
			logger.WithModule("http").Warn("session lookup failed", zap.Error(err))
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
			return
		}
		if user == nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		// Propagate identity into request context
		c.Set(CtxUserIDKey, user.ID)
		c.Set(CtxUserKey, user)
		c.Set(CtxTokenKey, token)

		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.NewUnauthorized(message))
	c.Abort()
}
