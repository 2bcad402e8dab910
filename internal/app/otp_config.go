package app

import (
	"github.com/charlesng35/otpauth/internal/notify"
	"github.com/charlesng35/otpauth/internal/services"
)

// ServiceOptions converts OTPConfig into OTPService options. Zero values keep
// the service defaults.
func (c OTPConfig) ServiceOptions() []services.OTPOption {
	var opts []services.OTPOption
	if c.TTL > 0 {
		opts = append(opts, services.WithOTPTTL(c.TTL))
	}
	if c.Cooldown > 0 {
		opts = append(opts, services.WithOTPCooldown(c.Cooldown))
	}
	if c.Length > 0 {
		opts = append(opts, services.WithOTPLength(c.Length))
	}
	return opts
}

// DispatcherOptions converts NotifyConfig into gateway options. Codes are
// only ever logged outside production.
func (c NotifyConfig) DispatcherOptions(production bool) []notify.Option {
	opts := []notify.Option{
		notify.WithRetry(c.RetryAttempts, c.RetryBackoff),
		notify.WithCodeLogging(c.DevLogCodes && !production),
	}
	if c.Brand != "" {
		opts = append(opts, notify.WithBrand(c.Brand))
	}
	return opts
}
