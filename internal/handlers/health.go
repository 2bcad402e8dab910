package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/internal/monitoring"
	"github.com/charlesng35/otpauth/pkg/logger"
)

// Health reports readiness: 200 while every probe is up, 503 otherwise.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateReadiness(requestContext(c)))
	}
}

// Liveness reports whether the process is able to serve requests at all.
func Liveness(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateLiveness(requestContext(c)))
	}
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
		logger.WithModule("http").Warn("health check failed", zap.String("status", string(report.Status)))
	}
	c.JSON(status, gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
