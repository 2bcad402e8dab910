package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/mail"
	"github.com/charlesng35/otpauth/pkg/metrics"
	"github.com/charlesng35/otpauth/pkg/sms"
)

const (
	// DefaultExpiry is the code lifetime quoted in messages when none is given.
	DefaultExpiry = 5 * time.Minute

	defaultBrand        = "Marketplace"
	defaultAttempts     = 3
	defaultRetryBackoff = 200 * time.Millisecond
)

// ErrChannelUnavailable is returned when no sender is configured for a channel.
var ErrChannelUnavailable = errors.New("notify: channel unavailable")

// Notification is a one-time code addressed to a single recipient.
type Notification struct {
	Channel   models.OTPChannel
	Recipient string
	Code      string
	Purpose   models.OTPPurpose
	ExpiresIn time.Duration
}

// Gateway delivers one-time codes. Delivery is best effort.
type Gateway interface {
	Deliver(ctx context.Context, n Notification) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMailer enables the email channel.
func WithMailer(m mail.Mailer) Option {
	return func(d *Dispatcher) {
		d.mailer = m
	}
}

// WithSMSSender enables the phone channel.
func WithSMSSender(s sms.Sender) Option {
	return func(d *Dispatcher) {
		d.sms = s
	}
}

// WithRetry sets how many times a transient failure is attempted and the
// initial exponential backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// WithCodeLogging writes codes to the log instead of failing when a channel
// has no sender. Development only.
func WithCodeLogging(enabled bool) Option {
	return func(d *Dispatcher) {
		d.logCodes = enabled
	}
}

// WithBrand sets the product name used in message templates.
func WithBrand(brand string) Option {
	return func(d *Dispatcher) {
		if strings.TrimSpace(brand) != "" {
			d.brand = strings.TrimSpace(brand)
		}
	}
}

// Dispatcher routes notifications to the email or SMS sender.
type Dispatcher struct {
	mailer   mail.Mailer
	sms      sms.Sender
	attempts int
	backoff  time.Duration
	logCodes bool
	brand    string
	log      *zap.Logger
}

// NewDispatcher constructs a Dispatcher. With no senders and code logging
// disabled every delivery fails with ErrChannelUnavailable.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		attempts: defaultAttempts,
		backoff:  defaultRetryBackoff,
		brand:    defaultBrand,
		log:      logger.WithModule("notify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Deliver renders and sends n over its channel, retrying transient failures.
func (d *Dispatcher) Deliver(ctx context.Context, n Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return errors.New("notify: recipient is required")
	}

	var send func(context.Context) error
	switch n.Channel {
	case models.OTPChannelEmail:
		if d.mailer == nil {
			return d.fallback(n)
		}
		rendered, err := renderEmail(d.brand, n)
		if err != nil {
			return err
		}
		msg := mail.Message{
			To:       []string{n.Recipient},
			Subject:  rendered.Subject,
			Body:     rendered.Text,
			HTMLBody: rendered.HTML,
		}
		send = func(ctx context.Context) error { return d.mailer.Send(ctx, msg) }
	case models.OTPChannelPhone:
		if d.sms == nil {
			return d.fallback(n)
		}
		body, err := renderSMS(d.brand, n)
		if err != nil {
			return err
		}
		msg := sms.Message{To: n.Recipient, Body: body}
		send = func(ctx context.Context) error { return d.sms.Send(ctx, msg) }
	default:
		return fmt.Errorf("notify: unsupported channel %q", n.Channel)
	}

	err := d.withRetry(ctx, send)
	if errors.Is(err, mail.ErrSMTPDisabled) || errors.Is(err, sms.ErrSMSDisabled) {
		return d.fallback(n)
	}
	if err != nil {
		metrics.OTPDeliveries.WithLabelValues(string(n.Channel), "failed").Inc()
		d.log.Warn("notification delivery failed",
			zap.String("channel", string(n.Channel)),
			logger.Redact(n.Recipient),
			zap.Error(err),
		)
		return fmt.Errorf("notify: deliver %s: %w", n.Channel, err)
	}

	metrics.OTPDeliveries.WithLabelValues(string(n.Channel), "sent").Inc()
	return nil
}

func (d *Dispatcher) withRetry(ctx context.Context, send func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(d.attempts-1), retry.NewExponential(d.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := send(ctx)
		if err == nil || !transient(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (d *Dispatcher) fallback(n Notification) error {
	if !d.logCodes {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, n.Channel)
	}
	d.log.Info("delivery simulated, code logged for development",
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("purpose", string(n.Purpose)),
		zap.String("code", n.Code),
	)
	metrics.OTPDeliveries.WithLabelValues(string(n.Channel), "logged").Inc()
	return nil
}

// transient reports whether another attempt could succeed. Configuration and
// client side rejections are final.
func transient(err error) bool {
	if errors.Is(err, mail.ErrSMTPDisabled) || errors.Is(err, sms.ErrSMSDisabled) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *sms.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	msg := err.Error()
	if strings.Contains(msg, "invalid") || strings.Contains(msg, "required") || strings.Contains(msg, "country code") {
		return false
	}
	return true
}
