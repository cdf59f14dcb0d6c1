package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/getoutvideo/gateway/internal/response"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards the operator routes with HTTP basic auth checked
// against a bcrypt hash.
func AdminAuth(user, passwordHash string) gin.HandlerFunc {
	hash := []byte(passwordHash)

	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(username), []byte(user)) != 1 ||
			bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			response.Error(c, http.StatusUnauthorized, response.CodeAdminUnauthorized, "admin credentials required")
			return
		}

		c.Next()
	}
}
