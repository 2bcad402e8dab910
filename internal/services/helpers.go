package services

import (
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/pkg/validator"
)

// Identifier addresses a person by email, phone or both. Values are
// normalised on construction.
type Identifier struct {
	Email string
	Phone string
}

// NewIdentifier trims and normalises the supplied contact details.
func NewIdentifier(email, phone string) Identifier {
	return Identifier{
		Email: validator.NormalizeEmail(email),
		Phone: validator.NormalizePhone(phone),
	}
}

// Empty reports whether neither contact is present.
func (i Identifier) Empty() bool {
	return i.Email == "" && i.Phone == ""
}

// For returns the contact used by channel, or "" when it is missing.
func (i Identifier) For(channel models.OTPChannel) string {
	switch channel {
	case models.OTPChannelEmail:
		return i.Email
	case models.OTPChannelPhone:
		return i.Phone
	default:
		return ""
	}
}

// scope restricts a query to rows whose email or phone matches i. An empty
// identifier matches nothing.
func (i Identifier) scope(db *gorm.DB) *gorm.DB {
	var clauses []string
	var args []any
	if i.Email != "" {
		clauses = append(clauses, "email = ?")
		args = append(args, i.Email)
	}
	if i.Phone != "" {
		clauses = append(clauses, "phone = ?")
		args = append(args, i.Phone)
	}
	if len(clauses) == 0 {
		return db.Where("1 = 0")
	}
	return db.Where("("+strings.Join(clauses, " OR ")+")", args...)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
