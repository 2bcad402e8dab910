package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func sessionMetadata(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// currentUserID returns the user resolved by the auth middleware.
func currentUserID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.CtxUserIDKey)
	return id, id != ""
}
