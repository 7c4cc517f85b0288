package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classdesk/classdesk-portal/internal/middleware"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/services"
)

// AuthHandler exposes the identity endpoints: password login per portal role,
// two-factor verification, token refresh, logout and password changes.
type AuthHandler struct {
	service services.AuthServiceInterface
}

func NewAuthHandler(service services.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(c *gin.Context) {
	role := models.Role(c.Param("role"))
	if !role.IsValid() {
		respondError(c, http.StatusNotFound, "Unknown login role", errors.New("role "+c.Param("role")))
		return
	}

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	resp, err := h.service.Login(c.Request.Context(), role, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			respondCoded(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", err)
		case errors.Is(err, services.ErrAccountLocked):
			respondCoded(c, http.StatusForbidden, "account_locked", "Account is locked", err)
		case errors.Is(err, services.ErrPortalMismatch):
			respondCoded(c, http.StatusForbidden, "portal_mismatch", "Account does not belong to this portal", err)
		default:
			respondError(c, http.StatusInternalServerError, "Error while signing in", err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req models.VerifyTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	resp, err := h.service.VerifyTwoFactor(c.Request.Context(), req.TempToken, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCode):
			respondCoded(c, http.StatusUnauthorized, "invalid_code", "Invalid verification code", err)
		case errors.Is(err, services.ErrTempTokenExpired), errors.Is(err, services.ErrTooManyAttempts):
			// Lockout and expiry both force the client to restart the login.
			respondCoded(c, http.StatusUnauthorized, "temp_token_expired", "Verification session expired", err)
		case errors.Is(err, services.ErrAccountLocked):
			respondCoded(c, http.StatusForbidden, "account_locked", "Account is locked", err)
		default:
			respondError(c, http.StatusInternalServerError, "Error while verifying code", err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	resp, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAccountLocked):
			respondCoded(c, http.StatusForbidden, "account_locked", "Account is locked", err)
		case errors.Is(err, services.ErrInvalidCredentials):
			respondCoded(c, http.StatusUnauthorized, "invalid_credentials", "Invalid refresh token", err)
		default:
			respondError(c, http.StatusInternalServerError, "Error while refreshing session", err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout is idempotent: an already-dead session still gets a success reply.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	claims, err := middleware.GetSessionClaims(c)
	if err == nil {
		h.service.Logout(c.Request.Context(), claims.UserID, req.LogoutAllDevices)
	}

	c.JSON(http.StatusOK, models.LogoutResponse{Success: true})
}

// ForgotPassword starts a reset and mails a verification code. The reply
// never reveals whether the email has an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	token, err := h.service.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Error while starting password reset", err)
		return
	}

	c.JSON(http.StatusOK, models.ForgotPasswordResponse{Success: true, ResetToken: token})
}

// SetPassword requires proof of account ownership: either the bearer access
// token of the caller, or the reset token plus emailed code from the
// forgot-password flow.
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req models.SetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	if claims, err := middleware.GetSessionClaims(c); err == nil {
		if err := h.service.SetPassword(c.Request.Context(), claims.UserID, req.Password); err != nil {
			respondError(c, http.StatusInternalServerError, "Error while updating password", err)
			return
		}
		c.JSON(http.StatusOK, models.LogoutResponse{Success: true})
		return
	}

	if req.ResetToken == "" || req.Code == "" {
		respondCoded(c, http.StatusUnauthorized, "temp_token_expired", "Password reset requires a valid reset token and code",
			errors.New("no access token and no reset verifier"))
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), req.ResetToken, req.Code, req.Password); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCode):
			respondCoded(c, http.StatusUnauthorized, "invalid_code", "Invalid verification code", err)
		case errors.Is(err, services.ErrTempTokenExpired), errors.Is(err, services.ErrTooManyAttempts):
			respondCoded(c, http.StatusUnauthorized, "temp_token_expired", "Password reset session expired", err)
		default:
			respondError(c, http.StatusInternalServerError, "Error while updating password", err)
		}
		return
	}

	c.JSON(http.StatusOK, models.LogoutResponse{Success: true})
}

func (h *AuthHandler) Me(c *gin.Context) {
	claims, err := middleware.GetSessionClaims(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "Not authenticated", err)
		return
	}

	user, err := h.service.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Error while loading profile", err)
		return
	}

	c.JSON(http.StatusOK, user)
}
