package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/otpauth/internal/handlers/testutil"
)

func TestAuthHandler_RegisterMeLogout(t *testing.T) {
	env := testutil.NewEnv(t)
	registered := env.Register("Market Seller", "Seller@Example.com")
	require.Equal(t, "Market Seller", registered.User.Name)
	require.NotNil(t, registered.User.Email)
	require.Equal(t, "seller@example.com", *registered.User.Email)
	require.True(t, registered.User.IsVerified)

	me := env.Request(http.MethodGet, "/api/auth/me", nil, registered.Token)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var meData struct {
		User testutil.UserPayload `json:"user"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &meData)
	require.Equal(t, registered.User.ID, meData.User.ID)

	logout := env.Request(http.MethodPost, "/api/auth/logout", nil, registered.Token)
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	unauth := env.Request(http.MethodGet, "/api/auth/me", nil, registered.Token)
	require.Equal(t, http.StatusUnauthorized, unauth.Code)

	unauth = env.Request(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, unauth.Code)
}

func TestAuthHandler_RegisterValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := map[string]map[string]string{
		"short name":   {"name": "A", "email": "a@example.com", "type": "email", "otpCode": "123456"},
		"bad code":     {"name": "Alice", "email": "a@example.com", "type": "email", "otpCode": "12ab56"},
		"bad type":     {"name": "Alice", "email": "a@example.com", "type": "fax", "otpCode": "123456"},
		"bad email":    {"name": "Alice", "email": "not-an-email", "type": "email", "otpCode": "123456"},
		"missing code": {"name": "Alice", "email": "a@example.com", "type": "email"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.Request(http.MethodPost, "/api/auth/register", payload, "")
			require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
			decoded := testutil.DecodeResponse(t, resp)
			require.False(t, decoded.Success)
			require.Equal(t, "BAD_REQUEST", decoded.Error.Code)
		})
	}

	// A well formed but unknown code is rejected without creating the user.
	resp := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Alice", "email": "a@example.com", "type": "email", "otpCode": "123456",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	user, err := env.Users.Find(context.Background(), servicesIdentifier("a@example.com", ""))
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestAuthHandler_RegisterConflict(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("First", "dup@example.com")

	env.Clock.Advance(3 * time.Minute)
	send := env.Request(http.MethodPost, "/api/otp/send", map[string]string{
		"email": "dup@example.com", "type": "email", "purpose": "register",
	}, "")
	require.Equal(t, http.StatusOK, send.Code, send.Body.String())

	resp := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Second", "email": "dup@example.com", "type": "email", "otpCode": env.Outbox.LastCode(t),
	}, "")
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())
}

func TestAuthHandler_LoginWithOTP(t *testing.T) {
	env := testutil.NewEnv(t)
	registered := env.Register("Buyer", "buyer@example.com")

	env.Clock.Advance(3 * time.Minute)
	send := env.Request(http.MethodPost, "/api/otp/send", map[string]string{
		"email": "buyer@example.com", "type": "email", "purpose": "login",
	}, "")
	require.Equal(t, http.StatusOK, send.Code, send.Body.String())

	bad := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "buyer@example.com", "type": "email", "otpCode": "000000",
	}, "")
	require.Equal(t, http.StatusBadRequest, bad.Code)

	login := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "buyer@example.com", "type": "email", "otpCode": env.Outbox.LastCode(t),
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())

	var result testutil.AuthPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, login).Data, &result)
	require.Equal(t, registered.User.ID, result.User.ID)
	require.NotEqual(t, registered.Token, result.Token)

	unknown := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ghost@example.com", "type": "email", "otpCode": "123456",
	}, "")
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
}

func TestProfileHandler_UpdateAndPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	registered := env.Register("Original", "profile@example.com")
	token := registered.Token

	update := env.Request(http.MethodPut, "/api/auth/profile", map[string]string{
		"name": "Renamed", "phone": "+1 (555) 010-2000",
	}, token)
	require.Equal(t, http.StatusOK, update.Code, update.Body.String())
	var updated struct {
		User testutil.UserPayload `json:"user"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, update).Data, &updated)
	require.Equal(t, "Renamed", updated.User.Name)
	require.NotNil(t, updated.User.Phone)
	require.Equal(t, "+15550102000", *updated.User.Phone)

	// The snapshot the auth middleware serves reflects the update at once.
	snapshot, err := env.Sessions.VerifySession(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "Renamed", snapshot.Name)

	empty := env.Request(http.MethodPut, "/api/auth/profile", map[string]string{}, token)
	require.Equal(t, http.StatusBadRequest, empty.Code)

	badPhone := env.Request(http.MethodPut, "/api/auth/profile", map[string]string{"phone": "abc"}, token)
	require.Equal(t, http.StatusBadRequest, badPhone.Code)

	set := env.Request(http.MethodPost, "/api/auth/change-password", map[string]string{"newPassword": "hunter22"}, token)
	require.Equal(t, http.StatusOK, set.Code, set.Body.String())

	wrong := env.Request(http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": "nope-nope", "newPassword": "another1",
	}, token)
	require.Equal(t, http.StatusBadRequest, wrong.Code)

	short := env.Request(http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": "hunter22", "newPassword": "abc",
	}, token)
	require.Equal(t, http.StatusBadRequest, short.Code)

	// Password users must now supply it alongside the code.
	env.Clock.Advance(3 * time.Minute)
	send := env.Request(http.MethodPost, "/api/otp/send", map[string]string{
		"email": "profile@example.com", "type": "email", "purpose": "login",
	}, "")
	require.Equal(t, http.StatusOK, send.Code)
	code := env.Outbox.LastCode(t)

	missing := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "profile@example.com", "type": "email", "otpCode": code,
	}, "")
	require.Equal(t, http.StatusBadRequest, missing.Code)

	ok := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "profile@example.com", "type": "email", "otpCode": code, "password": "hunter22",
	}, "")
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
}

func TestProfileHandler_DeleteAccount(t *testing.T) {
	env := testutil.NewEnv(t)
	registered := env.Register("Leaving", "leaving@example.com")

	resp := env.Request(http.MethodDelete, "/api/auth/account", nil, registered.Token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	me := env.Request(http.MethodGet, "/api/auth/me", nil, registered.Token)
	require.Equal(t, http.StatusUnauthorized, me.Code)
}
