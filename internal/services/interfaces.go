package services

import (
	"context"
	"time"

	"github.com/classdesk/classdesk-portal/internal/models"
)

// UserStore is the persistence interface AuthService needs for accounts.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	BumpTokenVersion(ctx context.Context, userID string) error
}

// AuthServiceInterface defines the identity operations exposed to handlers.
type AuthServiceInterface interface {
	Login(ctx context.Context, role models.Role, email, password string) (*models.LoginResponse, error)
	VerifyTwoFactor(ctx context.Context, tempToken, code string) (*models.VerifyTwoFactorResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.VerifyTwoFactorResponse, error)
	Logout(ctx context.Context, userID string, allDevices bool)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, code, newPassword string) error
	SetPassword(ctx context.Context, userID, newPassword string) error
	Me(ctx context.Context, userID string) (*models.User, error)
}

// LoginSessionStore is the persistence interface for in-progress two-factor
// logins.
type LoginSessionStore interface {
	Create(ctx context.Context, session *models.LoginSession) error
	GetByTempToken(ctx context.Context, tempToken string) (*models.LoginSession, error)
	IncrementAttempts(ctx context.Context, sessionID string) (int, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
