package flow_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/pkg/logger"
)

func init() {
	// Initialize logger for tests
	if err := logger.Initialize(logger.Config{
		Level:       "debug",
		Environment: "development",
	}); err != nil {
		panic(err)
	}
}

// MockAuthAPI is a mock implementation of authclient.API
type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, role models.Role, email, password string) (*models.LoginResponse, error) {
	args := m.Called(ctx, role, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LoginResponse), args.Error(1)
}

func (m *MockAuthAPI) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*models.VerifyTwoFactorResponse, error) {
	args := m.Called(ctx, tempToken, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerifyTwoFactorResponse), args.Error(1)
}

func (m *MockAuthAPI) Logout(ctx context.Context, accessToken string, allDevices bool) error {
	args := m.Called(ctx, accessToken, allDevices)
	return args.Error(0)
}

func (m *MockAuthAPI) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *MockAuthAPI) ResetPassword(ctx context.Context, resetToken, code, newPassword string) error {
	args := m.Called(ctx, resetToken, code, newPassword)
	return args.Error(0)
}

func (m *MockAuthAPI) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	args := m.Called(ctx, accessToken, newPassword)
	return args.Error(0)
}
