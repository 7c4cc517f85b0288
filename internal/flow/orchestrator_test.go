package flow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/classdesk/classdesk-portal/internal/authclient"
	"github.com/classdesk/classdesk-portal/internal/flow"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/store"
)

type fixture struct {
	orch    *flow.Orchestrator
	creds   *store.CredentialStore
	schools *store.SchoolContextStore
	auth    *MockAuthAPI
	durable store.Tier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	creds := store.NewCredentialStore(durable, tab)
	schools := store.NewSchoolContextStore(durable)
	auth := new(MockAuthAPI)

	f := &fixture{
		creds:   creds,
		schools: schools,
		auth:    auth,
		durable: durable,
	}
	f.orch = flow.New(creds, schools, auth, 0, nil)
	t.Cleanup(f.orch.Close)
	return f
}

func teacherUser() *models.User {
	return &models.User{
		ID:       "user-1",
		Name:     "Dana Adams",
		Email:    "dana@school.example",
		Role:     models.RoleTeacher,
		SchoolID: "school-1",
	}
}

func successLogin() *models.LoginResponse {
	return &models.LoginResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User:         teacherUser(),
	}
}

func TestOrchestrator_ChoosePortal(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))
	assert.Equal(t, flow.ScreenTeacherLogin, f.orch.Screen())

	// Selecting again from a login screen is not a valid transition.
	assert.ErrorIs(t, f.orch.ChoosePortal(models.PortalAdmin), flow.ErrInvalidTransition)
}

func TestOrchestrator_ChoosePortalInvalidatesForeignSession(t *testing.T) {
	f := newFixture(t)

	f.creds.WriteSession(&models.Session{
		AccessToken:  "a",
		RefreshToken: "r",
		User:         teacherUser(),
	}, true)

	require.NoError(t, f.orch.ChoosePortal(models.PortalAdmin))

	// A teacher session never unlocks the admin portal.
	_, ok := f.creds.ReadSession()
	assert.False(t, ok)
}

func TestOrchestrator_LoginSuccessWritesSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("Login", mock.Anything, models.RoleTeacher, "dana@school.example", "pass-word-1").
		Return(successLogin(), nil).Once()

	err := f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", true)
	require.NoError(t, err)

	assert.Equal(t, flow.ScreenLoginSuccess, f.orch.Screen())
	assert.Equal(t, models.RoleTeacher, f.orch.ResolvedRole())
	sess, ok := f.creds.ReadSession()
	require.True(t, ok)
	assert.Equal(t, "access-1", sess.AccessToken)

	f.auth.AssertExpectations(t)
}

func TestOrchestrator_LoginRejectionStaysOnScreen(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalStudent))

	f.auth.On("Login", mock.Anything, models.RoleStudent, "kid@school.example", "wrong-password").
		Return(nil, authclient.ErrInvalidCredentials).Once()

	err := f.orch.SubmitLogin(context.Background(), "kid@school.example", "wrong-password", false)
	assert.ErrorIs(t, err, authclient.ErrInvalidCredentials)
	assert.Equal(t, flow.ScreenStudentLogin, f.orch.Screen())

	_, ok := f.creds.ReadSession()
	assert.False(t, ok)
}

func TestOrchestrator_PortalMismatchShowsAccessDenied(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalAdmin))

	f.auth.On("Login", mock.Anything, models.RoleAdmin, "dana@school.example", "pass-word-1").
		Return(nil, authclient.ErrPortalMismatch).Once()

	err := f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false)
	assert.ErrorIs(t, err, authclient.ErrPortalMismatch)
	assert.Equal(t, flow.ScreenAccessDenied, f.orch.Screen())
}

func TestOrchestrator_TwoFactorRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("Login", mock.Anything, models.RoleTeacher, "dana@school.example", "pass-word-1").
		Return(&models.LoginResponse{
			RequiresTwoFactor: true,
			TempToken:         "tfa_token_1",
			SessionID:         "sess-1",
			UserID:            "user-1",
		}, nil).Once()

	require.NoError(t, f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", true))
	assert.Equal(t, flow.ScreenSecondFactor, f.orch.Screen())

	// The attempt is mirrored durably while the screen is active.
	mirror, ok := f.creds.ReadPendingMirror()
	require.True(t, ok)
	assert.Equal(t, "tfa_token_1", mirror.TempToken)

	f.auth.On("VerifyTwoFactor", mock.Anything, "tfa_token_1", "123456").
		Return(&models.VerifyTwoFactorResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			User:         teacherUser(),
		}, nil).Once()

	require.NoError(t, f.orch.VerifySecondFactor(context.Background(), "123456"))
	assert.Equal(t, flow.ScreenLoginSuccess, f.orch.Screen())

	_, ok = f.creds.ReadPendingMirror()
	assert.False(t, ok, "mirror must be destroyed on success")

	sess, ok := f.creds.ReadSession()
	require.True(t, ok)
	assert.Equal(t, "access-2", sess.AccessToken)
}

func TestOrchestrator_WrongCodeKeepsMirror(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Return(&models.LoginResponse{
			RequiresTwoFactor: true,
			TempToken:         "tfa_token_1",
			SessionID:         "sess-1",
			UserID:            "user-1",
		}, nil).Once()
	require.NoError(t, f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false))

	f.auth.On("VerifyTwoFactor", mock.Anything, "tfa_token_1", "000000").
		Return(nil, authclient.ErrInvalidCode).Once()

	err := f.orch.VerifySecondFactor(context.Background(), "000000")
	assert.ErrorIs(t, err, authclient.ErrInvalidCode)
	assert.Equal(t, flow.ScreenSecondFactor, f.orch.Screen())

	_, ok := f.creds.ReadPendingMirror()
	assert.True(t, ok, "a failed code keeps the attempt alive")
}

func TestOrchestrator_BackFromSecondFactorClearsMirror(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Return(&models.LoginResponse{
			RequiresTwoFactor: true,
			TempToken:         "tfa_token_1",
			SessionID:         "sess-1",
			UserID:            "user-1",
		}, nil).Once()
	require.NoError(t, f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false))

	require.NoError(t, f.orch.Back())
	assert.Equal(t, flow.ScreenTeacherLogin, f.orch.Screen())

	_, ok := f.creds.ReadPendingMirror()
	assert.False(t, ok, "every path out of the code screen destroys the mirror")
}

func TestOrchestrator_ResumesFromCompleteMirror(t *testing.T) {
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	creds := store.NewCredentialStore(durable, tab)
	creds.SetPortal(models.PortalTeacher, true)
	creds.WritePendingMirror(models.PendingMirror{
		SessionID: "sess-1",
		UserID:    "user-1",
		TempToken: "tfa_token_1",
	})

	orch := flow.New(creds, store.NewSchoolContextStore(durable), new(MockAuthAPI), 0, nil)
	defer orch.Close()

	assert.Equal(t, flow.ScreenSecondFactor, orch.Screen())
}

func TestOrchestrator_ResumedMirrorKeepsRememberChoice(t *testing.T) {
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	creds := store.NewCredentialStore(durable, tab)
	creds.SetPortal(models.PortalTeacher, true)
	creds.WritePendingMirror(models.PendingMirror{
		SessionID: "sess-1",
		UserID:    "user-1",
		TempToken: "tfa_token_1",
		Remember:  true,
	})

	auth := new(MockAuthAPI)
	orch := flow.New(creds, store.NewSchoolContextStore(durable), auth, 0, nil)
	defer orch.Close()
	require.Equal(t, flow.ScreenSecondFactor, orch.Screen())

	auth.On("VerifyTwoFactor", mock.Anything, "tfa_token_1", "123456").
		Return(&models.VerifyTwoFactorResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			User:         teacherUser(),
		}, nil).Once()
	require.NoError(t, orch.VerifySecondFactor(context.Background(), "123456"))

	// The remembered choice survived the reload, so the session landed in
	// the durable tier and outlives the tab.
	reopened := store.NewCredentialStore(durable, store.NewMemoryTier(time.Hour))
	sess, ok := reopened.ReadSession()
	require.True(t, ok)
	assert.Equal(t, "access-2", sess.AccessToken)
}

func TestOrchestrator_PartialMirrorFallsBackToLogin(t *testing.T) {
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	durable.Set("pending_session_id", "sess-1") // token and user id missing
	creds := store.NewCredentialStore(durable, tab)
	creds.SetPortal(models.PortalTeacher, true)

	orch := flow.New(creds, store.NewSchoolContextStore(durable), new(MockAuthAPI), 0, nil)
	defer orch.Close()

	assert.Equal(t, flow.ScreenTeacherLogin, orch.Screen())
	_, ok := creds.ReadPendingMirror()
	assert.False(t, ok)
}

func TestOrchestrator_DoubleSubmitRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	release := make(chan struct{})
	entered := make(chan struct{})
	f.auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(successLogin(), nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false)
	}()

	// Wait for the first submit to be in flight before probing; otherwise the
	// probe itself can win the race and consume the Once expectation.
	<-entered
	require.Eventually(t, func() bool {
		err := f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false)
		return err == flow.ErrAttemptInFlight
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
}

func TestOrchestrator_StaleCompletionDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	inFlight := make(chan struct{})
	release := make(chan struct{})
	f.auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(inFlight)
			<-release
		}).
		Return(successLogin(), nil).Once()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", true)
	}()

	<-inFlight
	// The user navigates away before the login completes.
	f.orch.BackToPortal()
	close(release)

	assert.ErrorIs(t, <-errCh, flow.ErrStaleAttempt)
	assert.Equal(t, flow.ScreenPortalSelection, f.orch.Screen())

	// The late completion must not have written credentials.
	_, ok := f.creds.ReadSession()
	assert.False(t, ok)
}

func TestOrchestrator_FirstLoginForcesPasswordSet(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	resp := successLogin()
	resp.IsFirstLogin = true
	f.auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Return(resp, nil).Once()

	require.NoError(t, f.orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", true))
	assert.Equal(t, flow.ScreenSetPassword, f.orch.Screen())

	// The session is held back until the password is set.
	_, ok := f.creds.ReadSession()
	assert.False(t, ok)

	// Ownership is proven with the held access token, not the email.
	f.auth.On("ChangePassword", mock.Anything, "access-1", "new-pass-word").
		Return(nil).Once()

	require.NoError(t, f.orch.CompletePasswordSet(context.Background(), "", "new-pass-word"))
	assert.Equal(t, flow.ScreenLoginSuccess, f.orch.Screen())

	sess, ok := f.creds.ReadSession()
	require.True(t, ok)
	assert.Equal(t, "access-1", sess.AccessToken)
}

func TestOrchestrator_ForgotPasswordSubFlow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("RequestPasswordReset", mock.Anything, "dana@school.example").
		Return("rst_token_1", nil).Once()
	require.NoError(t, f.orch.RequestPasswordReset(context.Background(), "dana@school.example"))
	assert.Equal(t, flow.ScreenForgotPassword, f.orch.Screen())

	require.NoError(t, f.orch.SubmitPasswordReset())
	assert.Equal(t, flow.ScreenSetPassword, f.orch.Screen())

	// The stored reset token and the emailed code travel together.
	f.auth.On("ResetPassword", mock.Anything, "rst_token_1", "123456", "new-pass-word").
		Return(nil).Once()
	require.NoError(t, f.orch.CompletePasswordSet(context.Background(), "123456", "new-pass-word"))
	assert.Equal(t, flow.ScreenLoginSuccess, f.orch.Screen())

	f.auth.AssertExpectations(t)
}

func TestOrchestrator_PasswordSetWithoutVerifierRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.auth.On("RequestPasswordReset", mock.Anything, "dana@school.example").
		Return("rst_token_1", nil).Once()
	require.NoError(t, f.orch.RequestPasswordReset(context.Background(), "dana@school.example"))
	require.NoError(t, f.orch.SubmitPasswordReset())

	// Leaving the screen discards the reset token, so a later completion has
	// nothing to redeem.
	require.NoError(t, f.orch.Back())
	assert.ErrorIs(t, f.orch.CompletePasswordSet(context.Background(), "123456", "new-pass-word"), flow.ErrInvalidTransition)
}

func TestOrchestrator_SchoolLoginRequiresAdminSession(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.orch.CompleteSchoolLogin("school-7"), flow.ErrNotAuthenticated)

	user := teacherUser()
	user.Role = models.RoleAdmin
	f.creds.WriteSession(&models.Session{AccessToken: "a", RefreshToken: "r", User: user}, true)

	require.NoError(t, f.orch.CompleteSchoolLogin("school-7"))
	id, ok := f.schools.SchoolID()
	require.True(t, ok)
	assert.Equal(t, "school-7", id)
	assert.Equal(t, flow.ScreenLoginSuccess, f.orch.Screen())
}

func TestOrchestrator_LogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.creds.WriteSession(&models.Session{AccessToken: "a", RefreshToken: "r", User: teacherUser()}, true)
	f.auth.On("Logout", mock.Anything, "a", false).Return(nil).Once()

	f.orch.Logout(context.Background(), false)
	_, ok := f.creds.ReadSession()
	assert.False(t, ok)
	assert.Equal(t, flow.ScreenPortalSelection, f.orch.Screen())

	// A second logout with nothing left must not call the identity API.
	f.orch.Logout(context.Background(), false)
	f.auth.AssertExpectations(t)
}

func TestOrchestrator_LogoutClearsPortalAndSchoolContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalAdmin))

	admin := teacherUser()
	admin.Role = models.RoleAdmin
	f.creds.WriteSession(&models.Session{AccessToken: "a", RefreshToken: "r", User: admin}, true)
	require.NoError(t, f.orch.CompleteSchoolLogin("school-1"))

	f.auth.On("Logout", mock.Anything, "a", false).Return(nil).Once()
	f.orch.Logout(context.Background(), false)

	// The next user of this browser starts from scratch: no portal, no
	// school context that could route them into the previous tenant.
	assert.Equal(t, flow.ScreenPortalSelection, f.orch.Screen())
	_, ok := f.creds.Portal()
	assert.False(t, ok, "portal selection must not survive logout")
	_, ok = f.schools.SchoolID()
	assert.False(t, ok, "school context must not survive logout")
}

func TestOrchestrator_LogoutSucceedsWhenRemoteFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))

	f.creds.WriteSession(&models.Session{AccessToken: "a", RefreshToken: "r", User: teacherUser()}, true)
	f.auth.On("Logout", mock.Anything, "a", true).Return(authclient.ErrUnavailable).Once()

	f.orch.Logout(context.Background(), true)

	_, ok := f.creds.ReadSession()
	assert.False(t, ok, "local state is cleared even when revocation fails")
}

func TestOrchestrator_SuccessCallbackAfterDelay(t *testing.T) {
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	creds := store.NewCredentialStore(durable, tab)
	auth := new(MockAuthAPI)

	done := make(chan models.Role, 1)
	orch := flow.New(creds, store.NewSchoolContextStore(durable), auth, 20*time.Millisecond, func(role models.Role) {
		done <- role
	})
	defer orch.Close()

	require.NoError(t, orch.ChoosePortal(models.PortalTeacher))
	auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Return(successLogin(), nil).Once()
	require.NoError(t, orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false))

	select {
	case role := <-done:
		assert.Equal(t, models.RoleTeacher, role)
	case <-time.After(time.Second):
		t.Fatal("success callback never fired")
	}
}

func TestOrchestrator_BackToPortalCancelsSuccessTimer(t *testing.T) {
	durable := store.NewMemoryTier(time.Hour)
	tab := store.NewMemoryTier(time.Hour)
	creds := store.NewCredentialStore(durable, tab)
	auth := new(MockAuthAPI)

	done := make(chan models.Role, 1)
	orch := flow.New(creds, store.NewSchoolContextStore(durable), auth, 50*time.Millisecond, func(role models.Role) {
		done <- role
	})
	defer orch.Close()

	require.NoError(t, orch.ChoosePortal(models.PortalTeacher))
	auth.On("Login", mock.Anything, models.RoleTeacher, mock.Anything, mock.Anything).
		Return(successLogin(), nil).Once()
	require.NoError(t, orch.SubmitLogin(context.Background(), "dana@school.example", "pass-word-1", false))

	orch.BackToPortal()

	select {
	case <-done:
		t.Fatal("callback fired after navigating away")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOrchestrator_AdminRegistrationRoundTrip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.ChoosePortal(models.PortalAdmin))
	require.NoError(t, f.orch.ShowAdminRegister())
	assert.Equal(t, flow.ScreenAdminRegister, f.orch.Screen())

	require.NoError(t, f.orch.CompleteRegistration("head@school.example"))
	assert.Equal(t, flow.ScreenAccountVerification, f.orch.Screen())
	assert.Equal(t, "head@school.example", f.orch.PendingEmail())

	require.NoError(t, f.orch.CompleteVerification())
	assert.Equal(t, flow.ScreenAdminLogin, f.orch.Screen())
}

func TestOrchestrator_RegisterOnlyFromAdminLogin(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.orch.ShowAdminRegister(), flow.ErrInvalidTransition)

	require.NoError(t, f.orch.ChoosePortal(models.PortalTeacher))
	assert.ErrorIs(t, f.orch.ShowAdminRegister(), flow.ErrInvalidTransition)
}

func TestOrchestrator_SessionManagementNeedsSession(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.orch.ShowSessionManagement(), flow.ErrInvalidTransition)

	f.creds.WriteSession(&models.Session{AccessToken: "a", RefreshToken: "r", User: teacherUser()}, true)
	require.NoError(t, f.orch.ShowSessionManagement())
	assert.Equal(t, flow.ScreenSessionManagement, f.orch.Screen())
}
