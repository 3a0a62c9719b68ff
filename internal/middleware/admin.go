package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/platform/logger"
)

const adminUsername = "admin"

// AdminMiddleware guards course management with HTTP Basic credentials
// shared with the operations tooling.
type AdminMiddleware struct {
	log      *logger.Logger
	password string
}

func NewAdminMiddleware(baseLog *logger.Logger, password string) *AdminMiddleware {
	return &AdminMiddleware{
		log:      baseLog.With("middleware", "AdminMiddleware"),
		password: password,
	}
}

func (am *AdminMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || am.password == "" || !constantTimeEqual(username, adminUsername) || !constantTimeEqual(password, am.password) {
			c.Header("WWW-Authenticate", `Basic realm="stackclass"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin credentials required"})
			return
		}
		c.Next()
	}
}

func constantTimeEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
