package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/response"
	appValidator "github.com/charlesng35/otpauth/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("Invalid JSON payload"))
		return false
	}
	return validate(c, dest)
}

// bindQuery is the query string counterpart of bindAndValidate.
func bindQuery[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("Invalid query parameters"))
		return false
	}
	return validate(c, dest)
}

func validate[T any](c *gin.Context, dest *T) bool {
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "Invalid request payload"
	}

	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "Invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		field := failure.Field
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
		case "phone":
			messages = append(messages, fmt.Sprintf("%s must be a valid phone number", field))
		case "otp":
			messages = append(messages, fmt.Sprintf("%s must be a 6 digit code", field))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(failure.Param, " ", ", ")))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, failure.Param))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, failure.Param))
		default:
			if failure.Param != "" {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
			} else {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
			}
		}
	}
	return strings.Join(messages, "; ")
}
