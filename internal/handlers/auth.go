package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/otpauth/internal/middleware"
	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/internal/services"
	"github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/response"
)

// AuthHandler manages authentication flows (register/login/logout/me).
type AuthHandler struct {
	accounts *services.AccountService
	users    *services.UserService
}

func NewAuthHandler(accounts *services.AccountService, users *services.UserService) *AuthHandler {
	return &AuthHandler{accounts: accounts, users: users}
}

type registerRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=255"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	OTPCode string `json:"otpCode" validate:"required,otp"`
	Type    string `json:"type" validate:"required,oneof=email phone"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password"`
	OTPCode  string `json:"otpCode" validate:"required,otp"`
	Type     string `json:"type" validate:"required,oneof=email phone"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.Register(requestContext(c), services.RegisterInput{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		OTPCode: req.OTPCode,
		Channel: models.OTPChannel(req.Type),
		Meta:    sessionMetadata(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusCreated, "Registration successful", result)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.Login(requestContext(c), services.LoginInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		OTPCode:  req.OTPCode,
		Channel:  models.OTPChannel(req.Type),
		Meta:     sessionMetadata(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "Login successful", result)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(middleware.CtxTokenKey)
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.accounts.Logout(requestContext(c), token); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user.Profile()})
}
