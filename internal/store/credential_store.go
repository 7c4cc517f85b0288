package store

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/pkg/logger"
)

// Logical keys shared by both tiers. A session is only ever read from the
// tier that holds the complete key set; fields are never merged across tiers.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUser         = "user"
	keyRememberMe   = "remember_me"
	keyPortal       = "portal"
	keyCurrentPage  = "current_page"
	keyUserType     = "user_type"

	keyPendingSessionID = "pending_session_id"
	keyPendingUserID    = "pending_user_id"
	keyPendingTempToken = "pending_temp_token"
	keyPendingRemember  = "pending_remember"
)

var sessionKeys = []string{keyAccessToken, keyRefreshToken, keyUser}

// CredentialStore wraps the durable and per-tab tiers behind one logical
// store. It is the sole owner of session tokens: reads prefer the durable
// tier, writes target exactly one tier based on the persist flag and clear
// the same keys in the other tier.
type CredentialStore struct {
	durable Tier
	tab     Tier
}

// NewCredentialStore builds a store over the two physical tiers.
func NewCredentialStore(durable, tab Tier) *CredentialStore {
	return &CredentialStore{durable: durable, tab: tab}
}

// ReadSession returns the stored session, or false when absent. A tier that
// holds only part of the key set is treated as absent: partial sessions are
// illegal and must never be surfaced.
func (s *CredentialStore) ReadSession() (*models.Session, bool) {
	if sess, ok := readSessionFrom(s.durable); ok {
		return sess, true
	}
	return readSessionFrom(s.tab)
}

func readSessionFrom(tier Tier) (*models.Session, bool) {
	access, okA := tier.Get(keyAccessToken)
	refresh, okR := tier.Get(keyRefreshToken)
	userJSON, okU := tier.Get(keyUser)
	if !okA || !okR || !okU {
		return nil, false
	}

	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		logger.Warn("Stored user record is corrupt, treating session as absent", zap.Error(err))
		return nil, false
	}

	sess := &models.Session{AccessToken: access, RefreshToken: refresh, User: &user}
	if !sess.Complete() {
		return nil, false
	}
	return sess, true
}

// WriteSession stores a complete session in the tier selected by persist and
// removes any copy of the session keys from the other tier. Incomplete
// sessions are rejected so a partial write can never be observed.
func (s *CredentialStore) WriteSession(sess *models.Session, persist bool) {
	if !sess.Complete() {
		logger.Warn("Refusing to write incomplete session")
		return
	}

	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		logger.Error("Failed to encode user record, session not written", zap.Error(err))
		return
	}

	target, other := s.tab, s.durable
	if persist {
		target, other = s.durable, s.tab
	}

	for _, k := range sessionKeys {
		other.Delete(k)
	}
	target.Set(keyAccessToken, sess.AccessToken)
	target.Set(keyRefreshToken, sess.RefreshToken)
	target.Set(keyUser, string(userJSON))

	if persist {
		s.durable.Set(keyRememberMe, "true")
	} else {
		s.durable.Delete(keyRememberMe)
	}
}

// ClearSession removes the session from both tiers unconditionally. Safe to
// call when no session exists.
func (s *CredentialStore) ClearSession() {
	for _, k := range sessionKeys {
		s.durable.Delete(k)
		s.tab.Delete(k)
	}
	s.durable.Delete(keyRememberMe)
}

// SetPortal records the portal selection. Screens reached by direct URL must
// survive a reload, so those paths persist the selection durably; the general
// case is per-tab. The tier not chosen is always cleared so at most one
// selection is active.
func (s *CredentialStore) SetPortal(portal models.Portal, persist bool) {
	if persist {
		s.tab.Delete(keyPortal)
		s.durable.Set(keyPortal, string(portal))
		return
	}
	s.durable.Delete(keyPortal)
	s.tab.Set(keyPortal, string(portal))
}

// Portal returns the active portal selection, durable tier first.
func (s *CredentialStore) Portal() (models.Portal, bool) {
	if v, ok := s.durable.Get(keyPortal); ok {
		return models.Portal(v), true
	}
	if v, ok := s.tab.Get(keyPortal); ok {
		return models.Portal(v), true
	}
	return "", false
}

// ClearPortal removes the portal selection from both tiers.
func (s *CredentialStore) ClearPortal() {
	s.durable.Delete(keyPortal)
	s.tab.Delete(keyPortal)
}

// SetBreadcrumb records the last-viewed page and user type. Advisory only.
func (s *CredentialStore) SetBreadcrumb(page, userType string) {
	s.tab.Set(keyCurrentPage, page)
	if userType != "" {
		s.tab.Set(keyUserType, userType)
	}
}

// Breadcrumb returns the stored page and user type, if any.
func (s *CredentialStore) Breadcrumb() (page, userType string) {
	page, _ = s.tab.Get(keyCurrentPage)
	userType, _ = s.tab.Get(keyUserType)
	return page, userType
}

// ClearBreadcrumbs removes the advisory navigation keys.
func (s *CredentialStore) ClearBreadcrumbs() {
	s.tab.Delete(keyCurrentPage)
	s.tab.Delete(keyUserType)
}

// WritePendingMirror stores the second-factor attempt in the durable tier so
// a reload mid-2FA can resume the screen.
func (s *CredentialStore) WritePendingMirror(m models.PendingMirror) {
	s.durable.Set(keyPendingSessionID, m.SessionID)
	s.durable.Set(keyPendingUserID, m.UserID)
	s.durable.Set(keyPendingTempToken, m.TempToken)
	if m.Remember {
		s.durable.Set(keyPendingRemember, "true")
	} else {
		s.durable.Delete(keyPendingRemember)
	}
}

// ReadPendingMirror returns the mirrored attempt only when all three fields
// are present and non-empty. A partial mirror is stale state from an
// interrupted flow: it is cleared and reported as absent (self-healing).
func (s *CredentialStore) ReadPendingMirror() (models.PendingMirror, bool) {
	m := models.PendingMirror{}
	m.SessionID, _ = s.durable.Get(keyPendingSessionID)
	m.UserID, _ = s.durable.Get(keyPendingUserID)
	m.TempToken, _ = s.durable.Get(keyPendingTempToken)
	remember, _ := s.durable.Get(keyPendingRemember)
	m.Remember = remember == "true"

	if m.Complete() {
		return m, true
	}
	if m.SessionID != "" || m.UserID != "" || m.TempToken != "" {
		logger.Warn("Incomplete pending-attempt mirror found, clearing stale state")
		s.ClearPendingMirror()
	}
	return models.PendingMirror{}, false
}

// ClearPendingMirror removes the mirror from both tiers. Called on every
// path out of the second-factor screen.
func (s *CredentialStore) ClearPendingMirror() {
	for _, k := range []string{keyPendingSessionID, keyPendingUserID, keyPendingTempToken, keyPendingRemember} {
		s.durable.Delete(k)
		s.tab.Delete(k)
	}
}
