package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classdesk/classdesk-portal/internal/authclient"
	"github.com/classdesk/classdesk-portal/internal/flow"
	"github.com/classdesk/classdesk-portal/internal/middleware"
	"github.com/classdesk/classdesk-portal/internal/models"
)

// FlowHandler exposes the login-flow orchestrator over HTTP. Every endpoint
// resolves the caller's orchestrator from the client-id cookie, applies one
// transition and returns the resulting flow state.
type FlowHandler struct {
	manager *flow.Manager
}

func NewFlowHandler(manager *flow.Manager) *FlowHandler {
	return &FlowHandler{manager: manager}
}

func (h *FlowHandler) client(c *gin.Context) *flow.Client {
	return h.manager.Client(middleware.GetClientID(c))
}

// state builds the flow-state reply for the client's current screen.
func state(cl *flow.Client) models.FlowStateResponse {
	resp := models.FlowStateResponse{
		Screen:  string(cl.Flow.Screen()),
		Role:    cl.Flow.ResolvedRole(),
		Email:   cl.Flow.PendingEmail(),
		Success: true,
	}
	if portal, ok := cl.Creds.Portal(); ok {
		resp.Portal = portal
	}
	return resp
}

// respondTransition maps a transition result to an HTTP reply. Rejections
// from the identity service are part of the flow, not transport failures:
// they come back 200 with Success=false so the screen can show the message.
func respondTransition(c *gin.Context, cl *flow.Client, err error) {
	if err == nil {
		c.JSON(http.StatusOK, state(cl))
		return
	}

	switch {
	case errors.Is(err, flow.ErrAttemptInFlight):
		respondError(c, http.StatusConflict, "Another attempt is already in progress", err)
	case errors.Is(err, flow.ErrStaleAttempt):
		respondError(c, http.StatusConflict, "Attempt superseded by navigation", err)
	case errors.Is(err, flow.ErrInvalidTransition), errors.Is(err, flow.ErrNoPendingAttempt):
		respondError(c, http.StatusConflict, "Action not valid for the current screen", err)
	case errors.Is(err, flow.ErrNotAuthenticated):
		respondError(c, http.StatusUnauthorized, "Not authenticated", err)
	default:
		attachError(c, err)
		resp := state(cl)
		resp.Success = false
		resp.Error = flowErrorMessage(err)
		resp.Retryable = errors.Is(err, authclient.ErrUnavailable)
		c.JSON(http.StatusOK, resp)
	}
}

func flowErrorMessage(err error) string {
	switch {
	case errors.Is(err, authclient.ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, authclient.ErrAccountLocked):
		return "This account is locked"
	case errors.Is(err, authclient.ErrPortalMismatch):
		return "This account belongs to a different portal"
	case errors.Is(err, authclient.ErrInvalidCode):
		return "Invalid verification code"
	case errors.Is(err, authclient.ErrTempTokenExpired):
		return "Verification expired, please sign in again"
	case errors.Is(err, authclient.ErrUnavailable):
		return "Sign-in is temporarily unavailable, please try again"
	}
	return "Something went wrong, please try again"
}

// State returns the current flow state without applying a transition.
func (h *FlowHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, state(h.client(c)))
}

func (h *FlowHandler) ChoosePortal(c *gin.Context) {
	var req models.ChoosePortalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.ChoosePortal(req.Portal))
}

func (h *FlowHandler) Login(c *gin.Context) {
	var req models.FlowLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.SubmitLogin(c.Request.Context(), req.Email, req.Password, req.Remember))
}

func (h *FlowHandler) VerifyTwoFactor(c *gin.Context) {
	var req models.FlowVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.VerifySecondFactor(c.Request.Context(), req.Code))
}

func (h *FlowHandler) ForgotPassword(c *gin.Context) {
	var req models.FlowForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	if err := cl.Flow.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondTransition(c, cl, err)
		return
	}
	respondTransition(c, cl, cl.Flow.SubmitPasswordReset())
}

func (h *FlowHandler) SetPassword(c *gin.Context) {
	var req models.FlowSetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.CompletePasswordSet(c.Request.Context(), req.Code, req.Password))
}

// ShowRegister opens the admin registration screen from the admin login.
func (h *FlowHandler) ShowRegister(c *gin.Context) {
	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.ShowAdminRegister())
}

// CompleteRegister moves a submitted registration on to account verification.
func (h *FlowHandler) CompleteRegister(c *gin.Context) {
	var req models.FlowRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.CompleteRegistration(req.Email))
}

// VerifyAccount returns a verified registration to the admin login screen.
func (h *FlowHandler) VerifyAccount(c *gin.Context) {
	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.CompleteVerification())
}

// ShowSessions opens the device and session management screen.
func (h *FlowHandler) ShowSessions(c *gin.Context) {
	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.ShowSessionManagement())
}

// ShowSchoolSelector opens the school selector for an admin entering the
// school-login sub-flow.
func (h *FlowHandler) ShowSchoolSelector(c *gin.Context) {
	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.ShowSchoolSelector())
}

func (h *FlowHandler) SchoolLogin(c *gin.Context) {
	var req models.FlowSchoolLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.CompleteSchoolLogin(req.SchoolID))
}

func (h *FlowHandler) Back(c *gin.Context) {
	cl := h.client(c)
	respondTransition(c, cl, cl.Flow.Back())
}

func (h *FlowHandler) BackToPortal(c *gin.Context) {
	cl := h.client(c)
	cl.Flow.BackToPortal()
	c.JSON(http.StatusOK, state(cl))
}

// Logout clears local state first and reports success even when the remote
// revocation fails or no session existed.
func (h *FlowHandler) Logout(c *gin.Context) {
	var req models.FlowLogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cl := h.client(c)
	cl.Flow.Logout(c.Request.Context(), req.LogoutAllDevices)
	c.JSON(http.StatusOK, state(cl))
}

func (h *FlowHandler) SetBreadcrumb(c *gin.Context) {
	var req models.BreadcrumbRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, "Validation failed", ParseValidationErrors(err), err)
		return
	}

	cl := h.client(c)
	cl.Creds.SetBreadcrumb(req.Page, req.UserType)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
