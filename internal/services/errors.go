package services

import (
	"context"
	"net/http"

	"github.com/charlesng35/otpauth/internal/database"
	apperrors "github.com/charlesng35/otpauth/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrNoAccountForContact is returned when a login code is requested for an unknown contact.
	ErrNoAccountForContact = apperrors.New("NOT_FOUND", "No account exists with this email or phone", http.StatusNotFound)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	return database.IsUniqueViolation(err)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
