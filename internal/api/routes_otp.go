package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/internal/handlers"
)

func registerOTPRoutes(api *gin.RouterGroup, handler *handlers.OTPHandler, limit gin.HandlerFunc) {
	otp := api.Group("/otp")
	otp.Use(limit)
	{
		otp.POST("/send", handler.Send)
		otp.POST("/verify", handler.Verify)
		otp.GET("/status", handler.Status)
		otp.POST("/clear-test", handler.ClearTest)
	}
}
