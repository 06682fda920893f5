package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-sync/internal/auth"
	"github.com/suPer8Hu/chat-sync/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on a WebSocket handshake, so a token query parameter is accepted too.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if tok == "" {
			tok = c.Query("token")
		}
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		uid, err := auth.ParseJWT(secret, tok)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// AdminRequired checks X-Admin-Token against the configured bcrypt hash.
func AdminRequired(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.CheckAdminToken(hash, c.GetHeader("X-Admin-Token")) {
			common.Fail(c, http.StatusUnauthorized, 40102, "admin token required")
			c.Abort()
			return
		}
		c.Next()
	}
}
