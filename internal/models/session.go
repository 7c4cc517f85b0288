package models

// Session is the authoritative proof of identity for a portal client.
// A session is either fully present (both tokens and the user record set) or
// absent; readers must treat anything partial as absent.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// Complete reports whether every field of the session is set.
func (s *Session) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != "" && s.User != nil && s.User.ID != ""
}

// PendingAuthAttempt is the transient state between a successful first-factor
// submission and session establishment, held while a second factor is required.
type PendingAuthAttempt struct {
	Email      string
	TempToken  string
	SessionID  string
	UserID     string
	FirstLogin bool
}

// PendingMirror is the durable copy of an in-flight second-factor attempt.
// It exists solely so a reload mid-2FA can resume the SecondFactor screen.
type PendingMirror struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TempToken string `json:"temp_token"`
	Remember  bool   `json:"remember"`
}

// Complete reports whether all mirrored fields are non-empty. An incomplete
// mirror must never be resumed; it is cleared instead.
func (m PendingMirror) Complete() bool {
	return m.SessionID != "" && m.UserID != "" && m.TempToken != ""
}
