package jwt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classdesk/classdesk-portal/pkg/jwt"
)

func testIdentity() jwt.Identity {
	return jwt.Identity{
		UserID:       "user-1",
		Email:        "dana@school.example",
		Name:         "Dana Adams",
		Role:         "teacher",
		SchoolID:     "school-1",
		TokenVersion: 2,
	}
}

func TestTokenManager_PairRoundTrip(t *testing.T) {
	tm := jwt.NewTokenManager("test-secret-at-least-32-bytes-long!", "classdesk-test", 15, 720)

	access, refresh, err := tm.GeneratePair(testIdentity())
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)

	claims, err := tm.ValidateAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "teacher", claims.Role)
	assert.Equal(t, "school-1", claims.SchoolID)
	assert.Equal(t, 2, claims.TokenVersion)
	assert.Equal(t, jwt.UseAccess, claims.TokenUse)
	assert.Equal(t, "classdesk-test", claims.Issuer)

	claims, err = tm.ValidateRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, jwt.UseRefresh, claims.TokenUse)
}

func TestTokenManager_RejectsCrossUse(t *testing.T) {
	tm := jwt.NewTokenManager("test-secret-at-least-32-bytes-long!", "classdesk-test", 15, 720)

	access, refresh, err := tm.GeneratePair(testIdentity())
	require.NoError(t, err)

	_, err = tm.ValidateRefresh(access)
	assert.ErrorIs(t, err, jwt.ErrWrongTokenUse)

	_, err = tm.ValidateAccess(refresh)
	assert.ErrorIs(t, err, jwt.ErrWrongTokenUse)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm := jwt.NewTokenManager("test-secret-at-least-32-bytes-long!", "classdesk-test", 15, 720)
	other := jwt.NewTokenManager("another-secret-also-32-bytes-long!!", "classdesk-test", 15, 720)

	access, _, err := tm.GeneratePair(testIdentity())
	require.NoError(t, err)

	_, err = other.ValidateAccess(access)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := jwt.NewTokenManager("test-secret-at-least-32-bytes-long!", "classdesk-test", 0, 720)

	access, _, err := tm.GeneratePair(testIdentity())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = tm.ValidateAccess(access)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := jwt.NewTokenManager("test-secret-at-least-32-bytes-long!", "classdesk-test", 15, 720)

	_, err := tm.ValidateAccess("not.a.token")
	assert.Error(t, err)
}

func TestTimingSafeCompare(t *testing.T) {
	assert.True(t, jwt.TimingSafeCompare("abc", "abc"))
	assert.False(t, jwt.TimingSafeCompare("abc", "abd"))
	assert.False(t, jwt.TimingSafeCompare("abc", "abcd"))
	assert.True(t, jwt.TimingSafeCompare("", ""))
}
