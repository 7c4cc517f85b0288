package models

// Request/response shapes for the gateway flow API (/api/v1/flow/...).

// ChoosePortalRequest selects the portal the client is entering.
type ChoosePortalRequest struct {
	Portal Portal `json:"portal" binding:"required,oneof=admin teacher student"`
}

// FlowLoginRequest submits first-factor credentials for the selected portal.
type FlowLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Remember bool   `json:"remember"`
}

// FlowVerifyRequest submits the second-factor code.
type FlowVerifyRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// FlowForgotPasswordRequest starts the password reset sub-flow.
type FlowForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email,max=255"`
}

// FlowSetPasswordRequest completes the set-password screen. The code is the
// emailed reset verifier; the first-login path leaves it empty.
type FlowSetPasswordRequest struct {
	Code     string `json:"code" binding:"omitempty,len=6,numeric"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// FlowRegisterRequest submits an admin registration for verification.
type FlowRegisterRequest struct {
	Email string `json:"email" binding:"required,email,max=255"`
}

// FlowSchoolLoginRequest completes the school-login sub-flow.
type FlowSchoolLoginRequest struct {
	SchoolID string `json:"schoolId" binding:"required,max=64"`
}

// FlowLogoutRequest ends the session for this client.
type FlowLogoutRequest struct {
	LogoutAllDevices bool `json:"logoutAllDevices"`
}

// BreadcrumbRequest records the last-viewed dashboard page. Advisory only;
// it never participates in authentication decisions.
type BreadcrumbRequest struct {
	Page     string `json:"page" binding:"required,max=64"`
	UserType string `json:"userType" binding:"omitempty,max=32"`
}

// FlowStateResponse describes the orchestrator state after a transition.
type FlowStateResponse struct {
	Screen  string `json:"screen"`
	Portal  Portal `json:"portal,omitempty"`
	Role    Role   `json:"role,omitempty"`
	Email   string `json:"email,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Retryable distinguishes transport failures from rejections so the
	// client can offer "retry" instead of "back to login".
	Retryable bool `json:"retryable,omitempty"`
}

// ShellRouteResponse is the guard's verdict for a path.
type ShellRouteResponse struct {
	Action     string `json:"action"` // render | redirect
	Screen     string `json:"screen,omitempty"`
	Portal     Portal `json:"portal,omitempty"`
	RedirectTo string `json:"redirectTo,omitempty"`
	Role       Role   `json:"role,omitempty"`
	SchoolID   string `json:"schoolId,omitempty"`
}
