package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/otpauth/internal/cache"
)

// EnvPrefix is prepended to every environment override, e.g. OTPAUTH_SERVER_PORT.
const EnvPrefix = "OTPAUTH"

// Config represents the runtime configuration for the authentication service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	OTP         OTPConfig         `mapstructure:"otp"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Email       EmailConfig       `mapstructure:"email"`
	SMS         SMSConfig         `mapstructure:"sms"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	Environment     string          `mapstructure:"environment"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles requests to the code endpoints per client.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// IsProduction reports whether development helpers must stay disabled.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig returns the connection settings for cache.NewRedisStore.
func (r RedisCacheConfig) StoreConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(r.Address),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
		DB:       r.DB,
		TLS:      r.TLS,
		Timeout:  r.Timeout,
	}
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Session SessionSettings `mapstructure:"session"`
}

// JWTSettings configures signed session tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"token_ttl"`
}

// SessionSettings configures server-side session lifetimes.
type SessionSettings struct {
	TTL      time.Duration `mapstructure:"ttl"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// OTPConfig tunes one-time code issuance.
type OTPConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Length   int           `mapstructure:"length"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig captures outbound SMS settings.
type SMSConfig struct {
	Twilio TwilioConfig `mapstructure:"twilio"`
}

// TwilioConfig holds Twilio REST credentials.
type TwilioConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	AccountSID string        `mapstructure:"account_sid"`
	AuthToken  string        `mapstructure:"auth_token"`
	FromNumber string        `mapstructure:"from_number"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// NotifyConfig tunes the notification gateway.
type NotifyConfig struct {
	Brand         string        `mapstructure:"brand"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	DevLogCodes   bool          `mapstructure:"dev_log_codes"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.requests", 20)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/otpauth.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "otpauth")
	v.SetDefault("auth.jwt.token_ttl", "168h") // 7 days
	v.SetDefault("auth.session.ttl", "168h")
	v.SetDefault("auth.session.cache_ttl", "1m")

	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.cooldown", "2m")
	v.SetDefault("otp.length", 6)

	v.SetDefault("maintenance.cleanup_schedule", "@every 5m")
	v.SetDefault("maintenance.stale_after", "1h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.from_name", "Marketplace")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.twilio.enabled", false)
	v.SetDefault("sms.twilio.account_sid", "")
	v.SetDefault("sms.twilio.auth_token", "")
	v.SetDefault("sms.twilio.from_number", "")
	v.SetDefault("sms.twilio.base_url", "")
	v.SetDefault("sms.twilio.timeout", "10s")

	v.SetDefault("notify.brand", "Marketplace")
	v.SetDefault("notify.retry_attempts", 3)
	v.SetDefault("notify.retry_backoff", "200ms")
	v.SetDefault("notify.dev_log_codes", false)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
