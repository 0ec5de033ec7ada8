package handler

import (
	"net/http"

	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/session"
	"github.com/gin-gonic/gin"
)

const sessionCtxKey = "session"

// SessionCookie writes the session key cookie.
type SessionCookie struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

func NewSessionCookie(cfg config.SessionConfig) SessionCookie {
	return SessionCookie{
		Name:     cfg.CookieName,
		Domain:   cfg.CookieDomain,
		Path:     cfg.CookiePath,
		Secure:   cfg.CookieSecure,
		SameSite: parseSameSite(cfg.CookieSameSite),
	}
}

// Write sets the cookie for sess, or deletes it when sess has no key. It
// must run before the response body is written.
func (sc SessionCookie) Write(c *gin.Context, sess *session.Session) {
	c.SetSameSite(sc.SameSite)
	c.SetCookie(sc.Name, sess.Key(), sess.CookieMaxAge(), sc.Path, sc.Domain, sc.Secure, true)
}

// Sessions loads the session named by the cookie. Requests without a
// usable cookie get a fresh session that is not saved until a handler
// writes to it.
func Sessions(store *session.Store, cookie SessionCookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, _ := c.Cookie(cookie.Name)
		sess, err := store.Load(c.Request.Context(), key)
		if err != nil {
			requestLogger(c).ErrorContext(c.Request.Context(), "failed to load session", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.Set(sessionCtxKey, sess)
		c.Next()
	}
}

func GetSession(c *gin.Context) *session.Session {
	if value, ok := c.Get(sessionCtxKey); ok {
		if sess, ok := value.(*session.Session); ok {
			return sess
		}
	}
	return nil
}

func parseSameSite(value string) http.SameSite {
	switch value {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
