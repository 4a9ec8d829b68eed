package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/session"
)

type SessionConfig struct {
	CookieName string
	HeaderName string
	MaxAge     int
	Secure     bool
}

// Session attaches the browser's session, creating one when the request
// carries no known id. The header wins over the cookie so an iframe that
// cannot keep third-party cookies can still pin its session.
func Session(manager *session.Manager, config SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(config.HeaderName)
		if id == "" {
			id, _ = c.Cookie(config.CookieName)
		}

		sess, created := manager.GetOrCreate(id)
		if created || sess.ID != id {
			c.SetSameSite(http.SameSiteNoneMode)
			c.SetCookie(config.CookieName, sess.ID, config.MaxAge, "/", "", config.Secure, true)
		}
		c.Header(config.HeaderName, sess.ID)
		c.Set(handler.ContextSession, sess)
		c.Next()
	}
}

// RequireIdentity rejects requests of sessions still awaiting authentication.
func RequireIdentity(hs handler.Handshake) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := handler.SessionFrom(c)
		if sess == nil {
			handler.AwaitingAuthentication(c, hs)
			return
		}
		if _, ok := sess.Identity(); !ok {
			handler.AwaitingAuthentication(c, hs)
			return
		}
		c.Next()
	}
}
