package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSMSDisabled signals that SMS delivery is disabled via configuration.
var ErrSMSDisabled = errors.New("sms: delivery disabled")

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// Message represents an outbound text message.
type Message struct {
	To   string
	Body string
}

// Sender delivers text messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TwilioSettings capture the credentials used by the Twilio REST sender.
type TwilioSettings struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// APIError is returned when Twilio rejects a message.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sms: twilio api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("sms: twilio api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioSender struct {
	cfg    TwilioSettings
	client *http.Client
}

// NewTwilioSender validates cfg and returns a Sender backed by the Twilio Messages API.
func NewTwilioSender(cfg TwilioSettings) (Sender, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
			return nil, errors.New("sms: twilio account sid and auth token are required when enabled")
		}
		if !strings.HasPrefix(strings.TrimSpace(cfg.FromNumber), "+") {
			return nil, errors.New("sms: from number must include a country code")
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &twilioSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *twilioSender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled {
		return ErrSMSDisabled
	}

	to := strings.TrimSpace(msg.To)
	if !strings.HasPrefix(to, "+") {
		return fmt.Errorf("sms: recipient %q must include a country code", to)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("sms: message body is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("sms: read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	var out twilioMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("sms: decode response: %w", err)
	}
	if out.Status == "failed" || out.Status == "undelivered" {
		return fmt.Errorf("sms: message %s reported status %s", out.SID, out.Status)
	}
	return nil
}
