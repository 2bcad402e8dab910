package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/response"
)

// RateLimit limits requests per (clientIP, route) within a fixed window. The
// counters live in store, so limits hold across instances sharing Redis or the database.
// Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := "ratelimit:" + c.ClientIP() + "|" + path

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			logger.WithModule("http").Warn("rate limit store failed", zap.Error(err))
			c.Next()
			return
		}

		resetIn := int((ttl + time.Second - 1) / time.Second)
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(resetIn))
			response.Error(c, errors.ErrRateLimit.WithDetail("remainingTime", resetIn))
			c.Abort()
			return
		}

		c.Next()
	}
}
