package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics observes request latency labelled by route group and template.
// Requests that match no route share one series so arbitrary paths cannot
// grow the label set.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.APILatency.
			WithLabelValues(RouteGroup(route), c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// RouteGroup maps a route template onto the coarse group used in metrics.
func RouteGroup(route string) string {
	trimmed := strings.TrimPrefix(route, "/api")
	switch {
	case route == unmatchedRoute:
		return unmatchedRoute
	case strings.HasPrefix(trimmed, "/otp"):
		return "otp"
	case strings.HasPrefix(trimmed, "/auth"):
		return "auth"
	case strings.HasPrefix(trimmed, "/health"):
		return "health"
	case strings.HasPrefix(trimmed, "/metrics"):
		return "metrics"
	}
	return "other"
}
