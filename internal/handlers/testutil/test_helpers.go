package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/api"
	"github.com/charlesng35/otpauth/internal/app"
	iauth "github.com/charlesng35/otpauth/internal/auth"
	"github.com/charlesng35/otpauth/internal/cache"
	sharedtestutil "github.com/charlesng35/otpauth/internal/database/testutil"
	"github.com/charlesng35/otpauth/internal/middleware"
	"github.com/charlesng35/otpauth/internal/notify"
	"github.com/charlesng35/otpauth/internal/services"
	"github.com/charlesng35/otpauth/pkg/response"
)

// Clock is a manually advanced time source shared by every service in an Env.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Outbox records every notification instead of delivering it.
type Outbox struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

// Deliver implements notify.Gateway.
func (o *Outbox) Deliver(_ context.Context, n notify.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, n)
	return nil
}

// Fail makes every following delivery return err.
func (o *Outbox) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Count returns how many notifications were delivered.
func (o *Outbox) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

// LastCode returns the code of the most recent notification.
func (o *Outbox) LastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no code was delivered")
	return o.sent[len(o.sent)-1].Code
}

// Option customises an Env.
type Option func(*app.Config)

// WithProduction runs the router with production settings.
func WithProduction() Option {
	return func(cfg *app.Config) {
		cfg.Server.Environment = "production"
	}
}

// WithRateLimit overrides the per route request budget.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Requests: requests, Window: window}
	}
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Clock    *Clock
	Outbox   *Outbox
	Sessions *iauth.SessionService
	Users    *services.UserService
	OTPs     *services.OTPService
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	outbox := &Outbox{}

	cfg := &app.Config{
		Server: app.ServerConfig{
			Environment: "test",
			RateLimit:   app.RateLimitConfig{Requests: 1000, Window: time.Minute},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "test-suite-super-secret-key-32-bytes!!", Issuer: "test-suite"},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cache.NewDatabaseStore(db)

	jwtCfg := cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = clock.Now
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	require.NoError(t, err)

	sessionCfg := cfg.Auth.SessionServiceConfig(iauth.NewStoreSessionCache(store))
	sessionCfg.Clock = clock.Now
	sessions, err := iauth.NewSessionService(db, jwtSvc, sessionCfg)
	require.NoError(t, err)

	otpOpts := append(cfg.OTP.ServiceOptions(), services.WithOTPClock(clock.Now))
	otps, err := services.NewOTPService(db, outbox, otpOpts...)
	require.NoError(t, err)

	users, err := services.NewUserService(db, services.WithSessionPurger(sessions))
	require.NoError(t, err)
	accounts, err := services.NewAccountService(otps, users, sessions)
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Sessions:  sessions,
		OTPs:      otps,
		Users:     users,
		Accounts:  accounts,
		RateStore: middleware.NewRateStore(store),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		Clock:    clock,
		Outbox:   outbox,
		Sessions: sessions,
		Users:    users,
		OTPs:     otps,
	}
}

// AuthPayload mirrors the register and login response data.
type AuthPayload struct {
	Token string      `json:"token"`
	User  UserPayload `json:"user"`
}

// UserPayload captures the public user projection.
type UserPayload struct {
	ID         string  `json:"id"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Name       string  `json:"name"`
	IsVerified bool    `json:"isVerified"`
}

// Register walks the send-code then register flow for an email address.
func (e *Env) Register(name, email string) AuthPayload {
	e.T.Helper()

	send := e.Request(http.MethodPost, "/api/otp/send", map[string]string{
		"email": email, "type": "email", "purpose": "register",
	}, "")
	require.Equal(e.T, http.StatusOK, send.Code, send.Body.String())

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "type": "email", "otpCode": e.Outbox.LastCode(e.T),
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result AuthPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
