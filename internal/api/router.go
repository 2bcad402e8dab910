package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/app"
	iauth "github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/handlers"
	"github.com/charlesng35/otpauth/internal/middleware"
	"github.com/charlesng35/otpauth/internal/monitoring"
	"github.com/charlesng35/otpauth/internal/services"
)

// Dependencies bundles the services the HTTP surface is built on.
type Dependencies struct {
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Sessions  *iauth.SessionService
	OTPs      *services.OTPService
	Users     *services.UserService
	Accounts  *services.AccountService
	RateStore middleware.RateStore
	// Health defaults to a database probe when nil.
	Health *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.OTPs == nil, d.Users == nil, d.Accounts == nil:
		return fmt.Errorf("account services must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager(0)
		health.RegisterReadiness(monitoring.DatabaseCheck(deps.DB))
	}
	registerHealthRoutes(r, health)

	// Unauthenticated endpoints share a per client and route budget.
	limit := middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
	requireAuth := middleware.Auth(middleware.JWTVerifier(deps.JWT), deps.Sessions)

	api := r.Group("/api")

	otpHandler := handlers.NewOTPHandler(deps.Accounts, deps.OTPs, cfg.Server.IsProduction())
	registerOTPRoutes(api, otpHandler, limit)

	registerAuthRoutes(api, authRouteDeps{
		AuthHandler:    handlers.NewAuthHandler(deps.Accounts, deps.Users),
		ProfileHandler: handlers.NewProfileHandler(deps.Users),
		RateLimit:      limit,
		RequireAuth:    requireAuth,
	})

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
