package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Internal   error          `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target carries the same error code, so that copies with
// a custom message still match the package sentinels.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a different client-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// WithDetail returns a copy of the AppError carrying an extra detail entry.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cpy.Details[k] = v
	}
	cpy.Details[key] = value
	return &cpy
}

// Error kinds exposed to the rest of the application.
var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid credentials",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrDelivery = &AppError{
		Code:       "DELIVERY_FAILED",
		Message:    "Verification code could not be delivered",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       ErrInternalServer.Code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest reports malformed or missing input.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}

// NewConflict reports a uniqueness violation.
func NewConflict(message string) *AppError {
	return ErrConflict.WithMessage(message)
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return ErrNotFound.WithMessage(message)
}

// NewUnauthorized reports failed authentication.
func NewUnauthorized(message string) *AppError {
	return ErrUnauthorized.WithMessage(message)
}

// NewRateLimited reports an active cooldown.
func NewRateLimited(message string) *AppError {
	return ErrRateLimit.WithMessage(message)
}

// NewDelivery wraps a notification gateway failure.
func NewDelivery(err error) *AppError {
	return ErrDelivery.WithInternal(err)
}
