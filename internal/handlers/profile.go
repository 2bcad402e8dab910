package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/internal/services"
	appErrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/response"
)

// ProfileHandler exposes current-user account management endpoints.
type ProfileHandler struct {
	users *services.UserService
}

// NewProfileHandler configures a profile handler with required services.
func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

// A present but empty phone clears it, so the phone format is checked by the
// user service rather than the validator.
type updateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=255"`
	Phone *string `json:"phone"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// Update modifies the authenticated user's profile details.
// PUT /api/auth/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	var body updateProfileRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.Update(requestContext(c), userID, services.UpdateUserInput{
		Name:  body.Name,
		Phone: body.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Profile updated successfully", gin.H{"user": user.Profile()})
}

// ChangePassword sets a new password after checking the current one.
// POST /api/auth/change-password
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	var body passwordChangeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.users.ChangePassword(requestContext(c), userID, body.CurrentPassword, body.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Password updated successfully"})
}

// Delete removes the account along with its sessions and codes.
// DELETE /api/auth/account
func (h *ProfileHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.users.Delete(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Account deleted"})
}
