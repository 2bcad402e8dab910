package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler    *handlers.AuthHandler
	ProfileHandler *handlers.ProfileHandler
	RateLimit      gin.HandlerFunc
	RequireAuth    gin.HandlerFunc
}

func registerAuthRoutes(api *gin.RouterGroup, deps authRouteDeps) {
	public := api.Group("/auth")
	public.Use(deps.RateLimit)
	{
		public.POST("/register", deps.AuthHandler.Register)
		public.POST("/login", deps.AuthHandler.Login)
	}

	protected := api.Group("/auth")
	protected.Use(deps.RequireAuth)
	{
		protected.POST("/logout", deps.AuthHandler.Logout)
		protected.GET("/me", deps.AuthHandler.Me)
		protected.PUT("/profile", deps.ProfileHandler.Update)
		protected.POST("/change-password", deps.ProfileHandler.ChangePassword)
		protected.DELETE("/account", deps.ProfileHandler.Delete)
	}
}
