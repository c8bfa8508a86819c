package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailview/internal/models"
)

const sessionContextKey = "mailview_session"

// Middleware loads the session named by the cookie, or issues a fresh
// anonymous one, and stores it in the gin context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var sess *models.Session
		if id, err := c.Cookie(s.cookieName); err == nil && id != "" {
			sess, err = s.Lookup(ctx, id)
			if err != nil && !errors.Is(err, ErrSessionNotFound) {
				s.logger.Error("load session", zap.Error(err))
			}
		}
		if sess == nil {
			var err error
			sess, err = s.IssueSession(ctx)
			if err != nil {
				s.logger.Error("issue session", zap.Error(err))
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			s.SetCookie(c, sess)
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// RequireUser redirects requests without a signed-in user to redirectTo.
func (s *Service) RequireUser(redirectTo string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserIDFromContext(c); !ok {
			c.Redirect(http.StatusFound, redirectTo)
			c.Abort()
			return
		}
		c.Next()
	}
}

// SessionFromContext retrieves the session stored by Middleware.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := val.(*models.Session)
	return sess, ok && sess != nil
}

// UserIDFromContext retrieves the signed-in user id, if any.
func UserIDFromContext(c *gin.Context) (string, bool) {
	sess, ok := SessionFromContext(c)
	if !ok || !sess.Authenticated() {
		return "", false
	}
	return sess.UserID, true
}

// SetCookie writes the session cookie.
func (s *Service) SetCookie(c *gin.Context, sess *models.Session) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName,
		Value:    sess.ID,
		MaxAge:   int(s.ttl.Seconds()),
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Service) ClearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
