package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTwilioSenderValidatesConfig(t *testing.T) {
	_, err := NewTwilioSender(TwilioSettings{Enabled: true})
	require.ErrorContains(t, err, "account sid")

	_, err = NewTwilioSender(TwilioSettings{Enabled: true, AccountSID: "AC1", AuthToken: "tok", FromNumber: "555"})
	require.ErrorContains(t, err, "country code")

	sender, err := NewTwilioSender(TwilioSettings{})
	require.NoError(t, err)
	require.ErrorIs(t, sender.Send(context.Background(), Message{To: "+15551234567", Body: "hi"}), ErrSMSDisabled)
}

func TestTwilioSenderPostsForm(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		gotBody = r.PostForm.Get("Body")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	t.Cleanup(server.Close)

	sender, err := NewTwilioSender(TwilioSettings{
		Enabled:    true,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550000000",
		BaseURL:    server.URL + "/",
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), Message{To: "+15551234567", Body: "Your code is 123456"})
	require.NoError(t, err)

	require.Equal(t, "/Accounts/AC123/Messages.json", gotPath)
	require.Equal(t, "+15551234567", gotTo)
	require.Equal(t, "+15550000000", gotFrom)
	require.Equal(t, "Your code is 123456", gotBody)
	require.Equal(t, "AC123", gotUser)
}

func TestTwilioSenderReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	t.Cleanup(server.Close)

	sender, err := NewTwilioSender(TwilioSettings{
		Enabled:    true,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550000000",
		BaseURL:    server.URL,
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), Message{To: "+15551234567", Body: "code"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 21211, apiErr.Code)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestTwilioSenderRejectsLocalNumbers(t *testing.T) {
	sender, err := NewTwilioSender(TwilioSettings{
		Enabled:    true,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550000000",
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), Message{To: "5551234567", Body: "code"})
	require.ErrorContains(t, err, "country code")
}
