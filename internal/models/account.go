package models

import "time"

// Account is a user row as stored by the identity database, including
// fields that must never leave the service.
type Account struct {
	ID               string
	Name             string
	Email            string
	Role             Role
	SchoolID         string
	PasswordHash     string
	Status           string
	TwoFactorEnabled bool
	FirstLogin       bool
	TokenVersion     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User returns the public projection of the account.
func (a *Account) User() *User {
	return &User{
		ID:       a.ID,
		Name:     a.Name,
		Email:    a.Email,
		Role:     a.Role,
		SchoolID: a.SchoolID,
	}
}

// LoginSession is an in-progress two-factor login: created when the first
// factor succeeds, consumed exactly once by a successful code verification.
type LoginSession struct {
	ID        string
	UserID    string
	TempToken string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}
