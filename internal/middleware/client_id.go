package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	clientIDCookie = "cd_client_id"
	clientIDKey    = "client_id"

	// Client ids identify a browser profile, not a session; they live long
	// so durable state survives between visits.
	clientIDMaxAge = 365 * 24 * 3600
)

// ClientIDMiddleware assigns every caller an opaque client id, carried in a
// cookie. All per-client gateway state is keyed by it. The cookie carries no
// authority: state behind it is only ever the caller's own.
func ClientIDMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(clientIDCookie)
		if err != nil || !validClientID(id) {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(clientIDCookie, id, clientIDMaxAge, "/", "", secure, true)
		}
		c.Set(clientIDKey, id)
		c.Next()
	}
}

// GetClientID returns the caller's client id. ClientIDMiddleware always runs
// first, so the value is present on every route that needs it.
func GetClientID(c *gin.Context) string {
	return c.GetString(clientIDKey)
}

func validClientID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
