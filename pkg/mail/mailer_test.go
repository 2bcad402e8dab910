package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	from   string
	rcpts  []string
	data   bytes.Buffer
	quit   bool
	rcptFn func(string) error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeClient) Rcpt(to string) error {
	if f.rcptFn != nil {
		if err := f.rcptFn(to); err != nil {
			return err
		}
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeClient) Data() (io.WriteCloser, error)   { return nopWriteCloser{&f.data}, nil }
func (f *fakeClient) Quit() error                     { f.quit = true; return nil }
func (f *fakeClient) Close() error                    { return nil }
func (f *fakeClient) StartTLS(*tls.Config) error      { return nil }
func (f *fakeClient) Auth(smtp.Auth) error            { return nil }
func (f *fakeClient) Extension(string) (bool, string) { return false, "" }

func newFakeMailer(t *testing.T, client *fakeClient) *smtpMailer {
	t.Helper()
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		From:     "no-reply@example.com",
		FromName: "Marketplace",
	})
	require.NoError(t, err)

	sm := m.(*smtpMailer)
	sm.dialFn = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		server, peer := net.Pipe()
		t.Cleanup(func() { _ = peer.Close() })
		return server, client, nil
	}
	sm.authFn = func(smtpClient, SMTPSettings) error { return nil }
	sm.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return sm
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@example.com"},
		Subject: "Test",
		Body:    "Hello",
	})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    465,
		UseTLS:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendRequiresRecipients(t *testing.T) {
	sm := newFakeMailer(t, &fakeClient{})

	err := sm.Send(context.Background(), Message{To: []string{"   ", "\t"}, Body: "Body"})
	require.ErrorContains(t, err, "at least one recipient")
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	sm := newFakeMailer(t, &fakeClient{})

	err := sm.Send(context.Background(), Message{From: "invalid-from", To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	err = sm.Send(context.Background(), Message{To: []string{"user@example.com", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestSMTPMailerSendWritesMultipartMessage(t *testing.T) {
	client := &fakeClient{}
	sm := newFakeMailer(t, client)

	err := sm.Send(context.Background(), Message{
		To:       []string{"buyer@example.com", "buyer@example.com"},
		Subject:  "Your verification code",
		Body:     "Your code is 123456",
		HTMLBody: "<p>Your code is <b>123456</b></p>",
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@example.com", client.from)
	require.Equal(t, []string{"buyer@example.com"}, client.rcpts)
	require.True(t, client.quit)

	content := client.data.String()
	require.Contains(t, content, `From: "Marketplace" <no-reply@example.com>`)
	require.Contains(t, content, "multipart/alternative")
	require.Contains(t, content, "Content-Type: text/plain; charset=UTF-8\r\n\r\nYour code is 123456")
	require.Contains(t, content, "<b>123456</b>")
	require.True(t, strings.HasSuffix(content, "--"+alternativeBoundary+"--\r\n"))
}

func TestSMTPMailerSendPropagatesRecipientFailure(t *testing.T) {
	client := &fakeClient{rcptFn: func(string) error { return errors.New("mailbox unavailable") }}
	sm := newFakeMailer(t, client)

	err := sm.Send(context.Background(), Message{To: []string{"user@example.com"}, Body: "x"})
	require.ErrorContains(t, err, "rcpt to user@example.com")
	require.False(t, client.quit)
}

func TestFormatMessagePlainText(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Subject\r\nBreak", "Body", "", time.Unix(0, 0).UTC())
	require.Contains(t, content, "From: from@example.com")
	require.Contains(t, content, "Subject: Subject  Break")
	require.Contains(t, content, "Content-Type: text/plain")
	require.True(t, strings.HasSuffix(content, "\r\n\r\nBody"))
}

func TestUniqueAddresses(t *testing.T) {
	addresses := []string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"}
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, uniqueAddresses(addresses))
}
