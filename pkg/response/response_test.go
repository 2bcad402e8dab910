package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appErrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Success(ctx, http.StatusCreated, gin.H{"message": "ok"})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
}

func TestSuccessWithMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	SuccessWithMessage(ctx, http.StatusOK, "Logged out", nil)

	resp := decode(t, rec)
	require.True(t, resp.Success)
	require.Equal(t, "Logged out", resp.Message)
}

func TestErrorWithAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Error(ctx, appErrors.ErrForbidden)

	require.Equal(t, appErrors.ErrForbidden.StatusCode, rec.Code)
	resp := decode(t, rec)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, appErrors.ErrForbidden.Code, resp.Error.Code)
}

func TestErrorIncludesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Error(ctx, appErrors.NewRateLimited("Please wait").WithDetail("remainingTime", 90))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode(t, rec)
	require.EqualValues(t, 90, resp.Error.Details["remainingTime"])
}

func TestErrorWithGenericError(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)

	Error(ctx, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	require.Equal(t, appErrors.ErrInternalServer.Code, resp.Error.Code)
}
