package app

import (
	"strings"

	"github.com/charlesng35/otpauth/pkg/mail"
	"github.com/charlesng35/otpauth/pkg/sms"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     strings.TrimSpace(c.SMTP.From),
		FromName: c.SMTP.FromName,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// TwilioSettings converts SMSConfig to the sms package representation.
func (c SMSConfig) TwilioSettings() sms.TwilioSettings {
	return sms.TwilioSettings{
		Enabled:    c.Twilio.Enabled,
		AccountSID: strings.TrimSpace(c.Twilio.AccountSID),
		AuthToken:  c.Twilio.AuthToken,
		FromNumber: strings.TrimSpace(c.Twilio.FromNumber),
		BaseURL:    strings.TrimSpace(c.Twilio.BaseURL),
		Timeout:    c.Twilio.Timeout,
	}
}
