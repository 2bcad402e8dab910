package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/api"
	"github.com/charlesng35/otpauth/internal/app"
	"github.com/charlesng35/otpauth/internal/app/maintenance"
	iauth "github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/cache"
	"github.com/charlesng35/otpauth/internal/database"
	"github.com/charlesng35/otpauth/internal/middleware"
	"github.com/charlesng35/otpauth/internal/monitoring"
	"github.com/charlesng35/otpauth/internal/notify"
	"github.com/charlesng35/otpauth/internal/services"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/mail"
	"github.com/charlesng35/otpauth/pkg/sms"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisStore
	Cache    cache.Store
	Sessions *iauth.SessionService
	OTPs     *services.OTPService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.Redis.StoreConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Sessions, err = iauth.NewSessionService(stack.DB, jwtSvc, cfg.Auth.SessionServiceConfig(iauth.NewStoreSessionCache(stack.Cache)))
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	gateway, err := newGateway(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.OTPs, err = services.NewOTPService(stack.DB, gateway, cfg.OTP.ServiceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise otp service: %w", err)
	}

	users, err := services.NewUserService(stack.DB, services.WithSessionPurger(stack.Sessions))
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	accounts, err := services.NewAccountService(stack.OTPs, users, stack.Sessions)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	// Redis expires its own keys; the SQL cache table needs sweeping.
	stack.Cleaner = maintenance.NewCleaner(
		maintenance.WithSchedule(cfg.Maintenance.CleanupSchedule),
		maintenance.WithTask("otps", stack.OTPs),
		maintenance.WithTask("sessions", stack.Sessions),
		maintenance.WithTask("cache_entries", maintenance.PurgerFunc(dbStore.PurgeExpired)),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Sessions:  stack.Sessions,
		OTPs:      stack.OTPs,
		Users:     users,
		Accounts:  accounts,
		RateStore: middleware.NewRateStore(stack.Cache),
		Health:    stack.healthManager(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) healthManager(cfg *app.Config) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager(0)
	manager.RegisterReadiness(monitoring.DatabaseCheck(s.DB))

	var pinger monitoring.Pinger
	if s.Redis != nil {
		pinger = s.Redis
	}
	manager.RegisterReadiness(monitoring.CacheCheck(pinger))
	manager.RegisterReadiness(monitoring.CleanupCheck(s.Cleaner, cfg.Maintenance.StaleAfter, nil))
	return manager
}

// newGateway configures the notification dispatcher from the SMTP and Twilio
// settings. Disabled senders fall back to logging codes when allowed.
func newGateway(cfg *app.Config, log *zap.Logger) (*notify.Dispatcher, error) {
	opts := cfg.Notify.DispatcherOptions(cfg.Server.IsProduction())

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	opts = append(opts, notify.WithMailer(mailer))

	sender, err := sms.NewTwilioSender(cfg.SMS.TwilioSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise sms sender: %w", err)
	}
	opts = append(opts, notify.WithSMSSender(sender))

	log.Info("notification channels configured",
		zap.Bool("email", cfg.Email.SMTP.Enabled),
		zap.Bool("sms", cfg.SMS.Twilio.Enabled),
	)
	return notify.NewDispatcher(opts...), nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		<-stopCtx.Done()
		if _, err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
