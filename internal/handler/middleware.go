package handler

import (
	"net/http"
	"strings"

	"github.com/appity/backend/internal/service"
	"github.com/gin-gonic/gin"
)

const identityCtxKey = "identity"

// Authenticate runs the authenticator for the matched route and stores the
// identity for downstream handlers. Rejections end the request with 401.
func Authenticate(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cr := service.Credentials{
			Method:        c.Request.Method,
			Route:         routeKey(c.Request.Method, c.FullPath()),
			Authorization: c.GetHeader("Authorization"),
			Otp:           c.Query(service.OtpQueryParam),
		}
		// a keyless session means the request brought no session
		if sess := GetSession(c); sess != nil && sess.Key() != "" {
			cr.Session = sess
		}

		res := auth.Authenticate(ctx, cr)
		switch res.Outcome {
		case service.Authenticated:
			c.Set(identityCtxKey, res.Identity)
		case service.AnonymousPass:
			if reason, ok := service.ReasonOf(res.Err); ok {
				requestLogger(c).DebugContext(ctx, "ignored credentials on anonymous route", "reason", reason)
			}
		case service.Rejected:
			reason, _ := service.ReasonOf(res.Err)
			requestLogger(c).DebugContext(ctx, "authentication rejected", "reason", reason)
			writeAuthError(c, res.Err)
			c.Abort()
			return
		default:
			requestLogger(c).ErrorContext(ctx, "authentication failed", "error", res.Err)
			writeAuthError(c, res.Err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePermissions checks perms in order against the request identity.
func RequirePermissions(perms []service.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.CheckPermissions(GetIdentity(c), perms); err != nil {
			writeAuthError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetIdentity(c *gin.Context) *service.Identity {
	if value, ok := c.Get(identityCtxKey); ok {
		if id, ok := value.(*service.Identity); ok {
			return id
		}
	}
	return nil
}

func CORSMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		originMap[trimmed] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := originMap[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				if allowCredentials {
					c.Header("Access-Control-Allow-Credentials", "true")
				}
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
