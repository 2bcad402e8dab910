package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/internal/models"
	"github.com/charlesng35/otpauth/internal/services"
	appErrors "github.com/charlesng35/otpauth/pkg/errors"
	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/response"
)

// OTPHandler exposes code issuance and verification.
type OTPHandler struct {
	accounts   *services.AccountService
	otps       *services.OTPService
	production bool
}

// NewOTPHandler wires the OTP endpoints. The clear-test endpoint refuses to
// run when production is true.
func NewOTPHandler(accounts *services.AccountService, otps *services.OTPService, production bool) *OTPHandler {
	return &OTPHandler{accounts: accounts, otps: otps, production: production}
}

type sendOTPRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	Type    string `json:"type" validate:"required,oneof=email phone"`
	Purpose string `json:"purpose" validate:"required,oneof=login register reset"`
}

type verifyOTPRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	OTPCode string `json:"otpCode" validate:"required,otp"`
	Purpose string `json:"purpose" validate:"required,oneof=login register reset"`
}

type otpStatusQuery struct {
	Email   string `form:"email" json:"email" validate:"omitempty,email"`
	Phone   string `form:"phone" json:"phone" validate:"omitempty,phone"`
	Type    string `form:"type" json:"type" validate:"required,oneof=email phone"`
	Purpose string `form:"purpose" json:"purpose" validate:"required,oneof=login register reset"`
}

type clearTestRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

// Send issues a code over the requested channel.
// POST /api/otp/send
func (h *OTPHandler) Send(c *gin.Context) {
	var req sendOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.RequestOTP(requestContext(c), services.OTPRequest{
		Email:   req.Email,
		Phone:   req.Phone,
		Channel: models.OTPChannel(req.Type),
		Purpose: models.OTPPurpose(req.Purpose),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Verify consumes a code. Login codes also return a session token.
// POST /api/otp/verify
func (h *OTPHandler) Verify(c *gin.Context) {
	var req verifyOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.accounts.VerifyOTP(requestContext(c), services.VerifyInput{
		Email:   req.Email,
		Phone:   req.Phone,
		OTPCode: req.OTPCode,
		Purpose: models.OTPPurpose(req.Purpose),
		Meta:    sessionMetadata(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, outcome)
}

// Status reports whether a new code may be requested yet.
// GET /api/otp/status
func (h *OTPHandler) Status(c *gin.Context) {
	var query otpStatusQuery
	if !bindQuery(c, &query) {
		return
	}

	status, err := h.accounts.CodeStatus(requestContext(c), services.OTPRequest{
		Email:   query.Email,
		Phone:   query.Phone,
		Channel: models.OTPChannel(query.Type),
		Purpose: models.OTPPurpose(query.Purpose),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ClearTest drops every stored code for a contact so test suites can
// request codes back to back. Disabled in production.
// POST /api/otp/clear-test
func (h *OTPHandler) ClearTest(c *gin.Context) {
	if h.production {
		response.Error(c, appErrors.ErrForbidden.WithMessage("Not available in production"))
		return
	}

	var req clearTestRequest
	if !bindAndValidate(c, &req) {
		return
	}
	id := services.NewIdentifier(req.Email, req.Phone)
	if id.Empty() {
		response.Error(c, appErrors.NewBadRequest("Email or phone is required"))
		return
	}

	removed, err := h.otps.ClearFor(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	logger.WithModule("http").Debug("cleared test codes", zap.Int64("removed", removed))

	response.Success(c, http.StatusOK, gin.H{"message": "Codes cleared", "removed": removed})
}
