package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/internal/authclient"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/store"
	"github.com/classdesk/classdesk-portal/pkg/logger"
	"github.com/classdesk/classdesk-portal/pkg/metrics"
)

// Screen identifies one screen of the login flow.
type Screen string

const (
	ScreenPortalSelection     Screen = "portal-selection"
	ScreenAdminLogin          Screen = "admin-login"
	ScreenAdminRegister       Screen = "admin-register"
	ScreenTeacherLogin        Screen = "teacher-login"
	ScreenStudentLogin        Screen = "student-login"
	ScreenForgotPassword      Screen = "forgot-password"
	ScreenSecondFactor        Screen = "second-factor"
	ScreenSetPassword         Screen = "set-password"
	ScreenAccountVerification Screen = "account-verification"
	ScreenSessionManagement   Screen = "session-management"
	ScreenAccessDenied        Screen = "access-denied"
	ScreenSchoolSelector      Screen = "school-selector"
	ScreenLoginSuccess        Screen = "login-success"
)

var (
	ErrInvalidTransition = errors.New("action not valid for the current screen")
	ErrAttemptInFlight   = errors.New("another attempt is already in progress")
	ErrNoPendingAttempt  = errors.New("no pending second-factor attempt")
	ErrStaleAttempt      = errors.New("attempt superseded by navigation")
	ErrNotAuthenticated  = errors.New("no authenticated session")
)

// Orchestrator drives one client's login flow as a state machine over named
// screens. All shared mutable state (the credential store tiers, the pending
// mirror, the school context) has exactly one writer at a time because only
// the component in the relevant screen writes to it; the mutex here only
// serializes transitions for a single client.
//
// Network calls happen outside the lock. A completion that arrives after the
// client has navigated away is detected by an attempt sequence check and
// dropped without touching shared state.
type Orchestrator struct {
	mu sync.Mutex

	creds   *store.CredentialStore
	schools *store.SchoolContextStore
	auth    authclient.API

	screen          Screen
	pending         *models.PendingAuthAttempt
	pendingRemember bool
	held            *models.Session // first-login session awaiting the password-set step
	heldRemember    bool
	forgotEmail     string
	resetToken      string
	resolvedRole    models.Role

	inFlight   bool
	attemptSeq uint64
	closed     bool

	onSuccess    func(models.Role)
	successDelay time.Duration
	successTimer *time.Timer
}

// New creates an orchestrator for one client. If a complete second-factor
// mirror is present the flow resumes at SecondFactor; an incomplete mirror is
// cleared and the flow starts at PortalSelection.
func New(creds *store.CredentialStore, schools *store.SchoolContextStore, auth authclient.API, successDelay time.Duration, onSuccess func(models.Role)) *Orchestrator {
	o := &Orchestrator{
		creds:        creds,
		schools:      schools,
		auth:         auth,
		screen:       ScreenPortalSelection,
		onSuccess:    onSuccess,
		successDelay: successDelay,
	}

	// ReadPendingMirror self-heals: a partial mirror is cleared and reported
	// absent, so a remount can never land on SecondFactor with empty fields.
	if mirror, ok := creds.ReadPendingMirror(); ok {
		o.pending = &models.PendingAuthAttempt{
			TempToken: mirror.TempToken,
			SessionID: mirror.SessionID,
			UserID:    mirror.UserID,
		}
		o.pendingRemember = mirror.Remember
		o.screen = ScreenSecondFactor
		logger.Debug("Resumed second-factor flow from durable mirror",
			zap.String("session_id", mirror.SessionID))
	} else if portal, ok := creds.Portal(); ok {
		// A stored portal selection resumes at that portal's login screen.
		o.screen = loginScreenFor(portal)
	}

	return o
}

// Screen returns the current screen.
func (o *Orchestrator) Screen() Screen {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.screen
}

// ResolvedRole returns the role the flow resolved to. It is only meaningful
// while the LoginSuccess screen is active.
func (o *Orchestrator) ResolvedRole() models.Role {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.screen != ScreenLoginSuccess {
		return ""
	}
	return o.resolvedRole
}

// PendingEmail returns the email attached to the in-flight attempt, if any.
func (o *Orchestrator) PendingEmail() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return o.pending.Email
	}
	return o.forgotEmail
}

// ChoosePortal records the portal the user is entering and moves to the
// matching login screen. A session held for a different portal is
// invalidated: switching portals always forces re-authentication.
func (o *Orchestrator) ChoosePortal(portal models.Portal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenPortalSelection {
		return ErrInvalidTransition
	}
	if !portal.IsValid() {
		return ErrInvalidTransition
	}

	if sess, ok := o.creds.ReadSession(); ok && !portal.Accepts(sess.User.Role) {
		logger.Info("Portal switch invalidates existing session",
			zap.String("portal", string(portal)),
			zap.String("session_role", string(sess.User.Role)))
		o.creds.ClearSession()
	}

	o.creds.SetPortal(portal, false)
	o.setScreen(loginScreenFor(portal))
	return nil
}

// SubmitLogin submits first-factor credentials for the current login screen.
// While a request is outstanding further submissions are rejected with
// ErrAttemptInFlight; a second click is dropped, never queued.
func (o *Orchestrator) SubmitLogin(ctx context.Context, email, password string, remember bool) error {
	o.mu.Lock()
	role, ok := roleForLoginScreen(o.screen)
	if !ok {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrAttemptInFlight
	}
	o.inFlight = true
	o.attemptSeq++
	seq := o.attemptSeq
	from := o.screen
	o.mu.Unlock()

	resp, err := o.auth.Login(ctx, role, email, password)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false

	// The client may have navigated away while the request was in flight.
	// A late completion must not mutate state for a screen no longer active.
	if o.closed || o.attemptSeq != seq || o.screen != from {
		logger.Debug("Dropping stale login completion", zap.String("email", email))
		return ErrStaleAttempt
	}

	if err != nil {
		metrics.LoginAttempts.WithLabelValues(string(role), "rejected").Inc()
		if errors.Is(err, authclient.ErrPortalMismatch) || errors.Is(err, authclient.ErrAccountLocked) {
			o.setScreen(ScreenAccessDenied)
		}
		return err
	}

	if resp.RequiresTwoFactor {
		o.pending = &models.PendingAuthAttempt{
			Email:      email,
			TempToken:  resp.TempToken,
			SessionID:  resp.SessionID,
			UserID:     resp.UserID,
			FirstLogin: resp.IsFirstLogin,
		}
		o.pendingRemember = remember
		// Mirrored durably so a reload mid-2FA resumes this screen.
		o.creds.WritePendingMirror(models.PendingMirror{
			SessionID: resp.SessionID,
			UserID:    resp.UserID,
			TempToken: resp.TempToken,
			Remember:  remember,
		})
		metrics.LoginAttempts.WithLabelValues(string(role), "twofactor").Inc()
		o.setScreen(ScreenSecondFactor)
		return nil
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	}
	if !session.Complete() {
		metrics.LoginAttempts.WithLabelValues(string(role), "malformed").Inc()
		return authclient.ErrUnavailable
	}

	metrics.LoginAttempts.WithLabelValues(string(role), "success").Inc()

	if resp.IsFirstLogin {
		// First login forces a password-set step before the session lands.
		o.held = session
		o.heldRemember = remember
		o.forgotEmail = email
		o.setScreen(ScreenSetPassword)
		return nil
	}

	o.creds.WriteSession(session, remember)
	o.enterLoginSuccess(session.User.Role)
	return nil
}

// VerifySecondFactor exchanges the pending temp token and code for final
// credentials. On success the pending attempt and its durable mirror are
// destroyed and the session is finalized.
func (o *Orchestrator) VerifySecondFactor(ctx context.Context, code string) error {
	o.mu.Lock()
	if o.screen != ScreenSecondFactor || o.pending == nil {
		o.mu.Unlock()
		return ErrNoPendingAttempt
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrAttemptInFlight
	}
	o.inFlight = true
	o.attemptSeq++
	seq := o.attemptSeq
	tempToken := o.pending.TempToken
	remember := o.pendingRemember
	o.mu.Unlock()

	resp, err := o.auth.VerifyTwoFactor(ctx, tempToken, code)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false

	// Completion is only applied if this is still the active attempt,
	// identified by the temp token it was issued for.
	if o.closed || o.attemptSeq != seq || o.pending == nil || o.pending.TempToken != tempToken {
		logger.Debug("Dropping stale second-factor completion")
		return ErrStaleAttempt
	}

	if err != nil {
		metrics.TwoFactorVerifications.WithLabelValues("rejected").Inc()
		return err
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	}
	if !session.Complete() {
		metrics.TwoFactorVerifications.WithLabelValues("malformed").Inc()
		return authclient.ErrUnavailable
	}

	o.pending = nil
	o.creds.ClearPendingMirror()
	o.creds.WriteSession(session, remember)
	metrics.TwoFactorVerifications.WithLabelValues("success").Inc()
	o.enterLoginSuccess(session.User.Role)
	return nil
}

// RequestPasswordReset asks the identity service to start a reset for the
// email entered on a login screen. The service mails a verification code and
// hands back a reset token that the set-password step redeems together with
// that code.
func (o *Orchestrator) RequestPasswordReset(ctx context.Context, email string) error {
	o.mu.Lock()
	if _, ok := roleForLoginScreen(o.screen); !ok {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrAttemptInFlight
	}
	o.inFlight = true
	o.attemptSeq++
	seq := o.attemptSeq
	from := o.screen
	o.mu.Unlock()

	token, err := o.auth.RequestPasswordReset(ctx, email)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false

	if o.closed || o.attemptSeq != seq || o.screen != from {
		return ErrStaleAttempt
	}
	if err != nil {
		return err
	}

	o.forgotEmail = email
	o.resetToken = token
	o.setScreen(ScreenForgotPassword)
	return nil
}

// SubmitPasswordReset advances the reset sub-flow to the SetPassword screen.
func (o *Orchestrator) SubmitPasswordReset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenForgotPassword {
		return ErrInvalidTransition
	}
	o.setScreen(ScreenSetPassword)
	return nil
}

// CompletePasswordSet stores the new password and finishes the flow. A
// first-login account proves ownership with its held access token; the reset
// path redeems the reset token together with the emailed code.
func (o *Orchestrator) CompletePasswordSet(ctx context.Context, code, newPassword string) error {
	o.mu.Lock()
	if o.screen != ScreenSetPassword {
		o.mu.Unlock()
		return ErrInvalidTransition
	}
	if o.held == nil && o.resetToken == "" {
		o.mu.Unlock()
		return ErrNoPendingAttempt
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrAttemptInFlight
	}
	o.inFlight = true
	o.attemptSeq++
	seq := o.attemptSeq
	held := o.held
	resetToken := o.resetToken
	o.mu.Unlock()

	var err error
	if held != nil {
		err = o.auth.ChangePassword(ctx, held.AccessToken, newPassword)
	} else {
		err = o.auth.ResetPassword(ctx, resetToken, code, newPassword)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false

	if o.closed || o.attemptSeq != seq || o.screen != ScreenSetPassword {
		return ErrStaleAttempt
	}
	if err != nil {
		return err
	}

	role := models.Role("")
	if o.held != nil {
		o.creds.WriteSession(o.held, o.heldRemember)
		role = o.held.User.Role
		o.held = nil
	} else if portal, ok := o.creds.Portal(); ok {
		role = primaryRoleFor(portal)
	}

	o.forgotEmail = ""
	o.resetToken = ""
	o.enterLoginSuccess(role)
	return nil
}

// ShowAdminRegister opens the admin registration screen.
func (o *Orchestrator) ShowAdminRegister() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenAdminLogin {
		return ErrInvalidTransition
	}
	o.setScreen(ScreenAdminRegister)
	return nil
}

// CompleteRegistration moves a submitted registration to the verification
// screen.
func (o *Orchestrator) CompleteRegistration(email string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenAdminRegister {
		return ErrInvalidTransition
	}
	o.forgotEmail = email
	o.setScreen(ScreenAccountVerification)
	return nil
}

// CompleteVerification returns a verified account to the admin login screen.
func (o *Orchestrator) CompleteVerification() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenAccountVerification {
		return ErrInvalidTransition
	}
	o.setScreen(ScreenAdminLogin)
	return nil
}

// ShowSchoolSelector opens the school selector for an authenticated admin
// who has no confirmed school yet.
func (o *Orchestrator) ShowSchoolSelector() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.screen != ScreenLoginSuccess && o.screen != ScreenPortalSelection {
		return ErrInvalidTransition
	}
	o.setScreen(ScreenSchoolSelector)
	return nil
}

// ShowSessionManagement opens the device/session management screen.
func (o *Orchestrator) ShowSessionManagement() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.creds.ReadSession(); !ok {
		return ErrInvalidTransition
	}
	o.setScreen(ScreenSessionManagement)
	return nil
}

// CompleteSchoolLogin confirms the school an authenticated admin is entering.
// This is the only path that writes the school context; an id merely present
// in a URL never lands here.
func (o *Orchestrator) CompleteSchoolLogin(schoolID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.creds.ReadSession()
	if !ok {
		return ErrNotAuthenticated
	}
	if sess.User.Role != models.RoleAdmin {
		return ErrInvalidTransition
	}

	o.schools.SetSchoolID(schoolID)
	o.enterLoginSuccess(models.RoleAdmin)
	return nil
}

// Logout tears down the authenticated session. Everything client-side goes
// in one step: session, portal selection, school context, breadcrumbs and
// the pending mirror. The remote revocation is best effort, so logging out
// while the identity service is down still succeeds, and a logout with no
// session is a no-op that still lands on the portal chooser.
func (o *Orchestrator) Logout(ctx context.Context, allDevices bool) {
	o.mu.Lock()
	sess, hadSession := o.creds.ReadSession()
	o.attemptSeq++
	o.creds.ClearSession()
	o.creds.ClearBreadcrumbs()
	o.backToPortal()
	o.mu.Unlock()

	if !hadSession {
		return
	}
	if err := o.auth.Logout(ctx, sess.AccessToken, allDevices); err != nil {
		logger.Warn("Remote logout failed, local session already cleared", zap.Error(err))
	}
}

// Back navigates one step back. Every path out of SecondFactor destroys the
// pending attempt and its durable mirror: a dangling mirror would let a
// reload re-enter SecondFactor with a stale temp token.
func (o *Orchestrator) Back() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attemptSeq++

	switch o.screen {
	case ScreenSecondFactor:
		o.pending = nil
		o.pendingRemember = false
		o.creds.ClearPendingMirror()
		o.setScreen(o.loginScreenOrPortal())
	case ScreenForgotPassword, ScreenSetPassword, ScreenAccessDenied, ScreenAdminRegister, ScreenAccountVerification, ScreenSessionManagement, ScreenSchoolSelector:
		o.held = nil
		o.forgotEmail = ""
		o.resetToken = ""
		o.setScreen(o.loginScreenOrPortal())
	case ScreenAdminLogin, ScreenTeacherLogin, ScreenStudentLogin:
		o.backToPortal()
	default:
		return ErrInvalidTransition
	}
	return nil
}

// BackToPortal abandons the flow from any screen and returns to the portal
// chooser, clearing the portal selection, any pending attempt and the school
// context.
func (o *Orchestrator) BackToPortal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attemptSeq++
	o.backToPortal()
}

// backToPortal must be called with o.mu held.
func (o *Orchestrator) backToPortal() {
	o.stopSuccessTimer()
	o.pending = nil
	o.pendingRemember = false
	o.held = nil
	o.forgotEmail = ""
	o.resetToken = ""
	o.resolvedRole = ""
	o.creds.ClearPendingMirror()
	o.creds.ClearPortal()
	o.schools.ClearSchoolID()
	o.setScreen(ScreenPortalSelection)
}

// Close tears the orchestrator down, cancelling the pending success timer.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.attemptSeq++
	o.stopSuccessTimer()
}

// enterLoginSuccess must be called with o.mu held. The fixed delay leaves
// room for the success animation before the host callback fires.
func (o *Orchestrator) enterLoginSuccess(role models.Role) {
	o.resolvedRole = role
	o.setScreen(ScreenLoginSuccess)

	o.stopSuccessTimer()
	if o.successDelay <= 0 {
		o.fireSuccess(role)
		return
	}
	o.successTimer = time.AfterFunc(o.successDelay, func() {
		o.mu.Lock()
		if o.closed || o.screen != ScreenLoginSuccess {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		o.fireSuccess(role)
	})
}

func (o *Orchestrator) fireSuccess(role models.Role) {
	if o.onSuccess != nil {
		o.onSuccess(role)
	}
}

// stopSuccessTimer must be called with o.mu held.
func (o *Orchestrator) stopSuccessTimer() {
	if o.successTimer != nil {
		o.successTimer.Stop()
		o.successTimer = nil
	}
}

// setScreen must be called with o.mu held.
func (o *Orchestrator) setScreen(to Screen) {
	if o.screen == to {
		return
	}
	metrics.FlowTransitions.WithLabelValues(string(o.screen), string(to)).Inc()
	o.screen = to
}

// loginScreenOrPortal must be called with o.mu held.
func (o *Orchestrator) loginScreenOrPortal() Screen {
	if portal, ok := o.creds.Portal(); ok {
		return loginScreenFor(portal)
	}
	return ScreenPortalSelection
}

func loginScreenFor(portal models.Portal) Screen {
	switch portal {
	case models.PortalAdmin:
		return ScreenAdminLogin
	case models.PortalTeacher:
		return ScreenTeacherLogin
	case models.PortalStudent:
		return ScreenStudentLogin
	}
	return ScreenPortalSelection
}

func roleForLoginScreen(s Screen) (models.Role, bool) {
	switch s {
	case ScreenAdminLogin:
		return models.RoleAdmin, true
	case ScreenTeacherLogin:
		return models.RoleTeacher, true
	case ScreenStudentLogin:
		return models.RoleStudent, true
	}
	return "", false
}

func primaryRoleFor(portal models.Portal) models.Role {
	switch portal {
	case models.PortalAdmin:
		return models.RoleAdmin
	case models.PortalTeacher:
		return models.RoleTeacher
	case models.PortalStudent:
		return models.RoleStudent
	}
	return ""
}
