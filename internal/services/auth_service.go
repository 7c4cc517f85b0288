package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/config"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/pkg/httpclient"
	"github.com/classdesk/classdesk-portal/pkg/jwt"
	"github.com/classdesk/classdesk-portal/pkg/logger"
	"github.com/classdesk/classdesk-portal/pkg/metrics"
	"github.com/classdesk/classdesk-portal/pkg/password"
	"github.com/classdesk/classdesk-portal/pkg/trigger"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrPortalMismatch     = errors.New("account does not belong to this portal")
	ErrInvalidRole        = errors.New("unknown login role")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTempTokenExpired   = errors.New("verification session expired")
	ErrTooManyAttempts    = errors.New("too many failed verification attempts")
	ErrTokenGeneration    = errors.New("failed to generate session tokens")
)

// AuthService implements the identity operations: password login with an
// optional second factor, token issuance and refresh, logout and password
// changes.
type AuthService struct {
	userRepo    UserStore
	sessionRepo LoginSessionStore
	config      *config.Config
	tokens      *jwt.TokenManager
	httpClient  httpclient.Client
}

func NewAuthService(
	userRepo UserStore,
	sessionRepo LoginSessionStore,
	cfg *config.Config,
	httpClient httpclient.Client,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      cfg,
		tokens: jwt.NewTokenManager(
			cfg.Session.JWTSecret,
			cfg.Session.JWTIssuer,
			cfg.Session.AccessTTLMinutes,
			cfg.Session.RefreshTTLHours,
		),
		httpClient: httpClient,
	}
}

// TokenManager exposes the validator for middleware.
func (s *AuthService) TokenManager() *jwt.TokenManager {
	return s.tokens
}

// Login verifies the first factor for the given portal role. Accounts with a
// second factor enabled get a temp token and a code sent out of band instead
// of a token pair. Lookup failures and bad passwords are indistinguishable
// to the caller.
func (s *AuthService) Login(ctx context.Context, role models.Role, email, pass string) (*models.LoginResponse, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	account, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		logger.Debug("Login for unknown email", zap.String("email", email))
		metrics.LoginAttempts.WithLabelValues(string(role), "unknown_email").Inc()
		return nil, ErrInvalidCredentials
	}

	if account.Status == models.UserStatusLocked {
		metrics.LoginAttempts.WithLabelValues(string(role), "locked").Inc()
		return nil, ErrAccountLocked
	}

	// A parent account logs in through the student portal; otherwise the
	// account's role must belong to the portal it was submitted from.
	if account.Role.Portal() != role.Portal() {
		metrics.LoginAttempts.WithLabelValues(string(role), "portal_mismatch").Inc()
		return nil, ErrPortalMismatch
	}

	ok, err := password.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			logger.Warn("Stored password hash is unreadable",
				zap.String("user_id", account.ID),
				zap.Error(err))
		}
		metrics.LoginAttempts.WithLabelValues(string(role), "bad_password").Inc()
		return nil, ErrInvalidCredentials
	}

	if account.TwoFactorEnabled {
		return s.startTwoFactor(ctx, account)
	}

	access, refresh, err := s.generatePair(account)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues(string(role), "success").Inc()
	return &models.LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		IsFirstLogin: account.FirstLogin,
		User:         account.User(),
	}, nil
}

func (s *AuthService) startTwoFactor(ctx context.Context, account *models.Account) (*models.LoginResponse, error) {
	tempToken, err := generateTempToken("tfa")
	if err != nil {
		logger.Error("Failed to generate temp token", zap.Error(err))
		return nil, ErrTokenGeneration
	}
	code, err := generateCode()
	if err != nil {
		logger.Error("Failed to generate verification code", zap.Error(err))
		return nil, ErrTokenGeneration
	}

	session := &models.LoginSession{
		ID:        uuid.NewString(),
		UserID:    account.ID,
		TempToken: tempToken,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(time.Duration(s.config.Session.TwoFactorTTLMinutes) * time.Minute),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store login session: %w", err)
	}

	if s.config.EventTriggers.TwoFactorCodeTriggerURL != "" {
		payload := map[string]interface{}{
			"type":       "two_factor_code",
			"user_id":    account.ID,
			"user_name":  account.Name,
			"user_email": account.Email,
			"code":       code,
		}
		trigger.CallAsyncWithPayload(s.config.EventTriggers.TwoFactorCodeTriggerURL, payload, s.httpClient)
	} else if s.config.IsDevelopment() {
		logger.Info("=== DEVELOPMENT TWO-FACTOR CODE ===",
			zap.String("user_email", account.Email),
			zap.String("code", code))
	}

	metrics.LoginAttempts.WithLabelValues(string(account.Role), "twofactor").Inc()
	return &models.LoginResponse{
		RequiresTwoFactor: true,
		TempToken:         tempToken,
		SessionID:         session.ID,
		UserID:            account.ID,
		IsFirstLogin:      account.FirstLogin,
	}, nil
}

// VerifyTwoFactor exchanges a temp token and code for the final token pair.
// The login session is single-use: it is deleted on success, on lockout and
// on expiry.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*models.VerifyTwoFactorResponse, error) {
	if !strings.HasPrefix(tempToken, "tfa_") {
		metrics.TwoFactorVerifications.WithLabelValues("unknown_token").Inc()
		return nil, ErrTempTokenExpired
	}

	session, err := s.sessionRepo.GetByTempToken(ctx, tempToken)
	if err != nil {
		metrics.TwoFactorVerifications.WithLabelValues("unknown_token").Inc()
		return nil, ErrTempTokenExpired
	}

	if time.Now().After(session.ExpiresAt) {
		s.discardSession(ctx, session.ID)
		metrics.TwoFactorVerifications.WithLabelValues("expired").Inc()
		return nil, ErrTempTokenExpired
	}

	if !jwt.TimingSafeCompare(hashCode(code), session.CodeHash) {
		attempts, err := s.sessionRepo.IncrementAttempts(ctx, session.ID)
		if err != nil {
			logger.Error("Failed to record verification attempt",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
		if attempts >= s.config.Session.MaxTwoFactorAttempts {
			s.discardSession(ctx, session.ID)
			metrics.TwoFactorVerifications.WithLabelValues("locked_out").Inc()
			return nil, ErrTooManyAttempts
		}
		metrics.TwoFactorVerifications.WithLabelValues("wrong_code").Inc()
		return nil, ErrInvalidCode
	}

	s.discardSession(ctx, session.ID)

	account, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verified account: %w", err)
	}
	if account.Status == models.UserStatusLocked {
		return nil, ErrAccountLocked
	}

	access, refresh, err := s.generatePair(account)
	if err != nil {
		return nil, err
	}

	metrics.TwoFactorVerifications.WithLabelValues("success").Inc()
	return &models.VerifyTwoFactorResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         account.User(),
	}, nil
}

// Refresh validates a refresh token and issues a fresh pair. A token whose
// version no longer matches the account was revoked by a logout-all and is
// rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.VerifyTwoFactorResponse, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	account, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if account.Status == models.UserStatusLocked {
		return nil, ErrAccountLocked
	}
	if claims.TokenVersion != account.TokenVersion {
		return nil, ErrInvalidCredentials
	}

	access, refresh, err := s.generatePair(account)
	if err != nil {
		return nil, err
	}
	return &models.VerifyTwoFactorResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         account.User(),
	}, nil
}

// Logout revokes the caller's sessions. With allDevices the account's token
// version is bumped, invalidating every outstanding refresh token. Logout is
// idempotent: revocation failures are logged, never surfaced.
func (s *AuthService) Logout(ctx context.Context, userID string, allDevices bool) {
	status := "success"
	if allDevices {
		if err := s.userRepo.BumpTokenVersion(ctx, userID); err != nil {
			logger.Error("Failed to bump token version on logout",
				zap.String("user_id", userID),
				zap.Error(err))
			status = "partial"
		}
	}
	metrics.Logouts.WithLabelValues(status).Inc()
}

// ForgotPassword starts a password reset for the given email. The reply is
// identical whether or not the email has an account, so the endpoint cannot
// be used to enumerate users; a token issued for an unknown or locked
// account redeems nothing.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	resetToken, err := generateTempToken("rst")
	if err != nil {
		logger.Error("Failed to generate reset token", zap.Error(err))
		return "", ErrTokenGeneration
	}

	account, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		logger.Debug("Password reset for unknown email", zap.String("email", email))
		return resetToken, nil
	}
	if account.Status == models.UserStatusLocked {
		return resetToken, nil
	}

	code, err := generateCode()
	if err != nil {
		logger.Error("Failed to generate reset code", zap.Error(err))
		return "", ErrTokenGeneration
	}

	session := &models.LoginSession{
		ID:        uuid.NewString(),
		UserID:    account.ID,
		TempToken: resetToken,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(time.Duration(s.config.Session.TwoFactorTTLMinutes) * time.Minute),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to store reset session: %w", err)
	}

	if s.config.EventTriggers.PasswordResetTriggerURL != "" {
		payload := map[string]interface{}{
			"type":       "password_reset_code",
			"user_id":    account.ID,
			"user_name":  account.Name,
			"user_email": account.Email,
			"code":       code,
		}
		trigger.CallAsyncWithPayload(s.config.EventTriggers.PasswordResetTriggerURL, payload, s.httpClient)
	} else if s.config.IsDevelopment() {
		logger.Info("=== DEVELOPMENT PASSWORD RESET CODE ===",
			zap.String("user_email", account.Email),
			zap.String("code", code))
	}

	return resetToken, nil
}

// ResetPassword redeems a reset token and emailed code for a password
// change. The session is single-use and shares the expiry and attempt
// lockout rules of the two-factor exchange.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, code, newPassword string) error {
	if !strings.HasPrefix(resetToken, "rst_") {
		return ErrTempTokenExpired
	}

	session, err := s.sessionRepo.GetByTempToken(ctx, resetToken)
	if err != nil {
		return ErrTempTokenExpired
	}
	if time.Now().After(session.ExpiresAt) {
		s.discardSession(ctx, session.ID)
		return ErrTempTokenExpired
	}

	if !jwt.TimingSafeCompare(hashCode(code), session.CodeHash) {
		attempts, err := s.sessionRepo.IncrementAttempts(ctx, session.ID)
		if err != nil {
			logger.Error("Failed to record reset attempt",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
		if attempts >= s.config.Session.MaxTwoFactorAttempts {
			s.discardSession(ctx, session.ID)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	s.discardSession(ctx, session.ID)
	return s.SetPassword(ctx, session.UserID, newPassword)
}

// SetPassword replaces the account's password and clears the first-login
// flag. Callers are responsible for verifying ownership of the account.
func (s *AuthService) SetPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := password.Hash(newPassword, password.DefaultParams())
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}

	logger.Info("Password updated", zap.String("user_id", userID))
	return nil
}

// Me resolves the authenticated user's public profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	account, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return account.User(), nil
}

// PruneExpiredSessions removes abandoned two-factor sessions.
func (s *AuthService) PruneExpiredSessions(ctx context.Context) {
	n, err := s.sessionRepo.DeleteExpired(ctx, time.Now())
	if err != nil {
		logger.Error("Failed to prune expired login sessions", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Debug("Pruned expired login sessions", zap.Int64("count", n))
	}
}

func (s *AuthService) generatePair(account *models.Account) (string, string, error) {
	access, refresh, err := s.tokens.GeneratePair(jwt.Identity{
		UserID:       account.ID,
		Email:        account.Email,
		Name:         account.Name,
		Role:         string(account.Role),
		SchoolID:     account.SchoolID,
		TokenVersion: account.TokenVersion,
	})
	if err != nil {
		logger.Error("Failed to generate token pair",
			zap.String("user_id", account.ID),
			zap.Error(err))
		return "", "", ErrTokenGeneration
	}
	return access, refresh, nil
}

func (s *AuthService) discardSession(ctx context.Context, sessionID string) {
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		logger.Error("Failed to delete login session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// generateTempToken builds an opaque single-use token. The prefix separates
// two-factor tokens from reset tokens so one can never be redeemed as the
// other.
func generateTempToken(prefix string) (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%d", prefix, hex.EncodeToString(bytes), time.Now().Unix()), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
