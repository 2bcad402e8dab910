package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/otpauth/internal/cache"
	"github.com/charlesng35/otpauth/internal/database/testutil"
	"github.com/charlesng35/otpauth/pkg/response"
)

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store offline")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewRateStore(cache.NewDatabaseStore(db))

	r := gin.New()
	r.Use(RateLimit(store, 2, time.Minute))
	r.POST("/otp/send", func(c *gin.Context) { c.String(http.StatusOK, "sent") })
	r.GET("/otp/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/otp/send", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/otp/send", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.Contains(t, payload.Error.Details, "remainingTime")

	// Counters are tracked per route.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/otp/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(failingRateStore{}, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNewRateStoreNil(t *testing.T) {
	require.Nil(t, NewRateStore(nil))
}
