package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"math"
	"text/template"
	"time"

	"github.com/charlesng35/otpauth/internal/models"
)

var purposeText = map[models.OTPPurpose]string{
	models.OTPPurposeLogin:    "sign in",
	models.OTPPurposeRegister: "create your account",
	models.OTPPurposeReset:    "reset your password",
}

type templateData struct {
	Brand   string
	Code    string
	Purpose string
	Minutes int
}

var (
	subjectTemplate = template.Must(template.New("subject").Parse(
		`{{.Brand}} verification code - {{.Code}}`))

	textTemplate = template.Must(template.New("text").Parse(
		`Your {{.Brand}} verification code is: {{.Code}}. It expires in {{.Minutes}} minutes.`))

	emailTextTemplate = template.Must(template.New("email_text").Parse(`You requested a verification code to {{.Purpose}} on {{.Brand}}.

Your code: {{.Code}}

This code expires in {{.Minutes}} minutes and can only be used once.
Never share this code with anyone. {{.Brand}} will never ask you for it.

If you did not request this code you can ignore this email.
`))

	emailHTMLTemplate = htmltemplate.Must(htmltemplate.New("email_html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #667eea; padding: 20px; text-align: center;">
    <h1 style="color: white; margin: 0;">{{.Brand}}</h1>
  </div>
  <div style="padding: 30px; background: #f9f9f9;">
    <h2 style="color: #333; text-align: center;">Verification code</h2>
    <p style="color: #666; font-size: 16px;">You requested a verification code to <strong>{{.Purpose}}</strong> on {{.Brand}}.</p>
    <div style="background: white; border: 2px solid #667eea; border-radius: 10px; padding: 20px; text-align: center; margin: 30px 0;">
      <h1 style="color: #667eea; font-size: 48px; margin: 0; letter-spacing: 8px; font-family: 'Courier New', monospace;">{{.Code}}</h1>
    </div>
    <p style="color: #666; font-size: 14px; text-align: center;">This code expires in <strong>{{.Minutes}} minutes</strong> and can only be used once.</p>
    <p style="color: #856404; font-size: 14px;"><strong>Security:</strong> never share this code with anyone. {{.Brand}} will never ask you for it.</p>
    <p style="color: #999; font-size: 12px; text-align: center; margin-top: 30px;">If you did not request this code you can ignore this email.</p>
  </div>
</div>`))
)

type renderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

func newTemplateData(brand string, n Notification) templateData {
	purpose, ok := purposeText[n.Purpose]
	if !ok {
		purpose = "verify your identity"
	}
	minutes := int(math.Ceil(n.ExpiresIn.Minutes()))
	if n.ExpiresIn <= 0 {
		minutes = int(DefaultExpiry / time.Minute)
	}
	return templateData{Brand: brand, Code: n.Code, Purpose: purpose, Minutes: minutes}
}

func renderEmail(brand string, n Notification) (renderedEmail, error) {
	data := newTemplateData(brand, n)

	var subject, text, html bytes.Buffer
	if err := subjectTemplate.Execute(&subject, data); err != nil {
		return renderedEmail{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := emailTextTemplate.Execute(&text, data); err != nil {
		return renderedEmail{}, fmt.Errorf("notify: render text body: %w", err)
	}
	if err := emailHTMLTemplate.Execute(&html, data); err != nil {
		return renderedEmail{}, fmt.Errorf("notify: render html body: %w", err)
	}
	return renderedEmail{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}

func renderSMS(brand string, n Notification) (string, error) {
	var body bytes.Buffer
	if err := textTemplate.Execute(&body, newTemplateData(brand, n)); err != nil {
		return "", fmt.Errorf("notify: render sms body: %w", err)
	}
	return body.String(), nil
}
