package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classdesk/classdesk-portal/pkg/jwt"
	"github.com/classdesk/classdesk-portal/pkg/logger"
)

const sessionClaimsKey = "session_claims"

var ErrNoSession = errors.New("no authenticated session in context")

// SessionAuthMiddleware validates the Bearer access token and stores its
// claims in the request context. Refresh tokens are rejected here: only the
// refresh endpoint accepts them.
func SessionAuthMiddleware(tokens *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateAccess(token)
		if err != nil {
			logger.Debug("Rejected access token",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired access token"})
			c.Abort()
			return
		}

		c.Set(sessionClaimsKey, claims)
		c.Next()
	}
}

// OptionalSessionMiddleware parses a Bearer token when present but never
// rejects the request. Used by logout, which must succeed either way.
func OptionalSessionMiddleware(tokens *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := tokens.ValidateAccess(token); err == nil {
				c.Set(sessionClaimsKey, claims)
			}
		}
		c.Next()
	}
}

// GetSessionClaims returns the validated claims for the current request.
func GetSessionClaims(c *gin.Context) (*jwt.Claims, error) {
	v, ok := c.Get(sessionClaimsKey)
	if !ok {
		return nil, ErrNoSession
	}
	claims, ok := v.(*jwt.Claims)
	if !ok {
		return nil, ErrNoSession
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
