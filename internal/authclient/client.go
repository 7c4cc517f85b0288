package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/pkg/httpclient"
)

// Sentinel errors mirroring the identity API's rejection codes, so flow
// screens can distinguish "wrong code" from "start over" from "try again".
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrPortalMismatch     = errors.New("account does not belong to this portal")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTempTokenExpired   = errors.New("temporary token expired")
	ErrUnavailable        = errors.New("authentication service unavailable")
)

// API is the consumed identity contract. The orchestrator only ever talks to
// this interface; tests substitute a mock.
type API interface {
	Login(ctx context.Context, role models.Role, email, password string) (*models.LoginResponse, error)
	VerifyTwoFactor(ctx context.Context, tempToken, code string) (*models.VerifyTwoFactorResponse, error)
	Logout(ctx context.Context, accessToken string, allDevices bool) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, code, newPassword string) error
	ChangePassword(ctx context.Context, accessToken, newPassword string) error
}

// HTTPClient implements API over the identity REST endpoints.
type HTTPClient struct {
	baseURL string
	client  httpclient.Client
}

// New creates an HTTP auth client against baseURL.
func New(baseURL string, client httpclient.Client) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// errorBody is the identity API's rejection envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *HTTPClient) Login(ctx context.Context, role models.Role, email, password string) (*models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.post(ctx, "/api/v1/auth/login/"+string(role), "", models.LoginRequest{
		Email:    email,
		Password: password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*models.VerifyTwoFactorResponse, error) {
	var out models.VerifyTwoFactorResponse
	err := c.post(ctx, "/api/v1/auth/2fa/verify", "", models.VerifyTwoFactorRequest{
		TempToken: tempToken,
		Code:      code,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Logout(ctx context.Context, accessToken string, allDevices bool) error {
	var out models.LogoutResponse
	return c.post(ctx, "/api/v1/auth/logout", accessToken, models.LogoutRequest{
		LogoutAllDevices: allDevices,
	}, &out)
}

// RequestPasswordReset starts the forgot-password flow and returns the reset
// token to redeem alongside the emailed code.
func (c *HTTPClient) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	var out models.ForgotPasswordResponse
	err := c.post(ctx, "/api/v1/auth/password/forgot", "", models.ForgotPasswordRequest{
		Email: email,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ResetToken, nil
}

func (c *HTTPClient) ResetPassword(ctx context.Context, resetToken, code, newPassword string) error {
	var out models.LogoutResponse
	return c.post(ctx, "/api/v1/auth/password/set", "", models.SetPasswordRequest{
		ResetToken: resetToken,
		Code:       code,
		Password:   newPassword,
	}, &out)
}

// ChangePassword replaces the password of the account the access token
// belongs to. Used by the first-login step, which holds a token but has not
// finalized its session yet.
func (c *HTTPClient) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	var out models.LogoutResponse
	return c.post(ctx, "/api/v1/auth/password/set", accessToken, models.SetPasswordRequest{
		Password: newPassword,
	}, &out)
}

func (c *HTTPClient) post(ctx context.Context, path, bearer string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return mapError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return nil
}

func mapError(status int, data []byte) error {
	var body errorBody
	_ = json.Unmarshal(data, &body) //nolint:errcheck // body may not be JSON

	switch body.Code {
	case "invalid_credentials":
		return ErrInvalidCredentials
	case "account_locked":
		return ErrAccountLocked
	case "portal_mismatch":
		return ErrPortalMismatch
	case "invalid_code":
		return ErrInvalidCode
	case "temp_token_expired":
		return ErrTempTokenExpired
	}

	switch {
	case status == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case status == http.StatusForbidden:
		return ErrAccountLocked
	case status >= 500:
		return ErrUnavailable
	}
	return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, status)
}
