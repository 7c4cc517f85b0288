package models

// Request/response shapes for the identity API (/api/v1/auth/...).
// The same shapes are used by the gateway-side auth client.

// LoginRequest is the payload for POST /auth/login/:role.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginResponse is returned by the login endpoint. When RequiresTwoFactor is
// set, the token fields are empty and TempToken/SessionID/UserID carry the
// challenge; otherwise the final credentials are present.
type LoginResponse struct {
	AccessToken       string `json:"accessToken,omitempty"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TempToken         string `json:"tempToken,omitempty"`
	SessionID         string `json:"sessionId,omitempty"`
	UserID            string `json:"userId,omitempty"`
	IsFirstLogin      bool   `json:"isFirstLogin,omitempty"`
	User              *User  `json:"user,omitempty"`
}

// VerifyTwoFactorRequest is the payload for POST /auth/2fa/verify.
type VerifyTwoFactorRequest struct {
	TempToken string `json:"tempToken" binding:"required,min=20,max=120"`
	Code      string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyTwoFactorResponse is returned on a successful code exchange.
type VerifyTwoFactorResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// RefreshRequest is the payload for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required,min=20"`
}

// LogoutRequest is the payload for POST /auth/logout.
type LogoutRequest struct {
	LogoutAllDevices bool `json:"logoutAllDevices"`
}

// LogoutResponse acknowledges a logout. The gateway clears local state
// regardless of whether the call succeeded.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// ForgotPasswordRequest is the payload for POST /auth/password/forgot.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email,max=255"`
}

// ForgotPasswordResponse acknowledges a reset request. The reply is the same
// whether or not the email has an account, so the endpoint cannot be used to
// enumerate users; a token issued for an unknown email redeems nothing.
type ForgotPasswordResponse struct {
	Success    bool   `json:"success"`
	ResetToken string `json:"resetToken"`
}

// SetPasswordRequest is the payload for POST /auth/password/set. The caller
// proves ownership of the account either with a bearer access token (the
// first-login path) or with the reset token and emailed code from the
// forgot-password flow.
type SetPasswordRequest struct {
	ResetToken string `json:"resetToken" binding:"omitempty,min=20,max=120"`
	Code       string `json:"code" binding:"omitempty,len=6,numeric"`
	Password   string `json:"password" binding:"required,min=8,max=128"`
}
