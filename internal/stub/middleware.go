package stub

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionIDKey is the context key under which AuthRequired stores the
// authenticated session id.
const SessionIDKey = "session_id"

// AuthRequired verifies the per-session bearer token and stores the
// session id it was issued for.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		sid, err := ParseSessionToken(secret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			fail(c, http.StatusUnauthorized, 40102, "invalid session token")
			c.Abort()
			return
		}
		c.Set(SessionIDKey, sid)
		c.Next()
	}
}

func sessionIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(SessionIDKey)
	if !ok {
		return "", false
	}
	sid, ok := v.(string)
	return sid, ok && sid != ""
}
