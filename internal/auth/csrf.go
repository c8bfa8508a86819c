package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware requires state-changing requests to echo the session's CSRF
// token in the X-CSRF-Token header or the _csrf form field.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		sess, ok := SessionFromContext(c)
		if !ok || sess.CSRFToken == "" {
			c.String(http.StatusForbidden, "invalid csrf token")
			c.Abort()
			return
		}
		token := c.GetHeader(s.csrfHeaderName)
		if token == "" {
			token = c.PostForm(s.csrfFieldName)
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
			c.String(http.StatusForbidden, "invalid csrf token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
