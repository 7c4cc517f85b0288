package jwt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaim  = errors.New("invalid token claims")
	ErrWrongTokenUse = errors.New("token used for the wrong purpose")
)

// Token use markers embedded in the claims so an access token can never be
// replayed as a refresh token and vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims are the JWT claims for portal access and refresh tokens.
type Claims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	SchoolID     string `json:"school_id,omitempty"`
	TokenUse     string `json:"token_use"`
	TokenVersion int    `json:"token_version"`
	jwt.RegisteredClaims
}

// TokenManager handles JWT generation and validation for the token pair.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, accessTTLMinutes, refreshTTLHours int) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  time.Duration(accessTTLMinutes) * time.Minute,
		refreshTTL: time.Duration(refreshTTLHours) * time.Hour,
	}
}

// Identity is the subject material baked into a token pair.
type Identity struct {
	UserID       string
	Email        string
	Name         string
	Role         string
	SchoolID     string
	TokenVersion int
}

// GeneratePair issues a matching access and refresh token for one identity.
func (tm *TokenManager) GeneratePair(id Identity) (access, refresh string, err error) {
	access, err = tm.generate(id, UseAccess, tm.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = tm.generate(id, UseRefresh, tm.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (tm *TokenManager) generate(id Identity, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:       id.UserID,
		Email:        id.Email,
		Name:         id.Name,
		Role:         id.Role,
		SchoolID:     id.SchoolID,
		TokenUse:     use,
		TokenVersion: id.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tm.issuer,
			Subject:   id.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccess validates an access token and returns its claims.
func (tm *TokenManager) ValidateAccess(tokenString string) (*Claims, error) {
	return tm.validate(tokenString, UseAccess)
}

// ValidateRefresh validates a refresh token and returns its claims.
func (tm *TokenManager) ValidateRefresh(tokenString string) (*Claims, error) {
	return tm.validate(tokenString, UseRefresh)
}

func (tm *TokenManager) validate(tokenString, use string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaim
	}
	if claims.TokenUse != use {
		return nil, ErrWrongTokenUse
	}

	return claims, nil
}

// AccessTTL returns the access token lifetime.
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// RefreshTTL returns the refresh token lifetime.
func (tm *TokenManager) RefreshTTL() time.Duration {
	return tm.refreshTTL
}

// TimingSafeCompare performs a timing-safe comparison of two strings
// This prevents timing attacks when comparing tokens
func TimingSafeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
