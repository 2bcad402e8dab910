package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/internal/handlers"
	"github.com/charlesng35/otpauth/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, manager *monitoring.HealthManager) {
	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		router.GET("/health", handlers.Health(manager))
		router.GET("/health/live", handlers.Liveness(manager))
	}
}
