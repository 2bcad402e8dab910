package middleware

import "github.com/gin-gonic/gin"

const (
	// DefaultContentSecurityPolicy forbids every resource; the API only serves JSON.
	DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
)

// SecurityHeaders applies common HTTP response headers that harden the API against
// clickjacking and MIME sniffing and enforces HTTPS transport. Responses may
// carry tokens, so they are never cached.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
