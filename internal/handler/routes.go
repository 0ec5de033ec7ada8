package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/service"
	"github.com/appity/backend/internal/session"
	"github.com/gin-gonic/gin"
)

// RouteMeta is the static access policy of one route.
type RouteMeta struct {
	Anonymous   bool
	Permissions []service.Permission
}

// Routes maps "METHOD /full/path" to its policy.
type Routes map[string]RouteMeta

func (r Routes) IsAnonymous(route string) bool {
	return r[route].Anonymous
}

func routeKey(method, fullPath string) string {
	return method + " " + fullPath
}

var (
	anonymous     = RouteMeta{Anonymous: true}
	authenticated = RouteMeta{}
)

type Deps struct {
	Config        config.Config
	Logger        *slog.Logger
	Store         db.Store
	Sessions      *session.Store
	Auth          *service.AuthService
	Gate          *service.LoginGate
	Signups       *service.SignupGate
	Manager       *service.SessionManager
	Tokens        *service.TokenService
	Otp           *service.OtpExchange
	Impersonation *service.Impersonation
	Sweeper       *service.Sweeper
}

type registrar struct {
	routes       Routes
	authenticate gin.HandlerFunc
}

// handle registers h on g behind authentication and the route's permissions.
func (rg *registrar) handle(g *gin.RouterGroup, method, path string, meta RouteMeta, h gin.HandlerFunc) {
	full := strings.TrimRight(g.BasePath(), "/") + path
	rg.routes[routeKey(method, full)] = meta

	chain := []gin.HandlerFunc{rg.authenticate}
	if len(meta.Permissions) > 0 {
		chain = append(chain, RequirePermissions(meta.Permissions))
	}
	chain = append(chain, h)
	g.Handle(method, path, chain...)
}

// NewRouter wires the middleware stack and every route. The returned
// Routes is the policy the authenticator consults.
func NewRouter(d Deps) (*gin.Engine, Routes) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	routes := Routes{}
	authenticator := service.NewAuthenticator(d.Store, d.Otp, routes, d.Logger)
	cookie := NewSessionCookie(d.Config.Session)

	router := gin.New()
	if err := router.SetTrustedProxies(d.Config.Server.TrustedProxies); err != nil {
		d.Logger.Warn("ignoring invalid trusted proxies", "error", err)
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(RequestLog(d.Logger))
	router.Use(CORSMiddleware(d.Config.Server.CORSOrigins, d.Config.Server.CORSCredentials))
	router.Use(Sessions(d.Sessions, cookie))

	rg := &registrar{routes: routes, authenticate: Authenticate(authenticator)}
	root := router.Group("/")
	rg.handle(root, http.MethodGet, "/ping", anonymous, Ping)
	rg.handle(root, http.MethodGet, "/", anonymous, Root)

	h := NewAuthHandler(d, cookie)
	auth := router.Group("/api/v1/auth")
	rg.handle(auth, http.MethodPost, "/login", anonymous, h.Login)
	rg.handle(auth, http.MethodPost, "/signup", anonymous, h.Signup)
	rg.handle(auth, http.MethodPost, "/logout", anonymous, h.Logout)
	rg.handle(auth, http.MethodGet, "/current-user", anonymous, h.CurrentUser)
	rg.handle(auth, http.MethodPost, "/extend", authenticated, h.Extend)
	rg.handle(auth, http.MethodPost, "/otp", authenticated, h.Otp)
	rg.handle(auth, http.MethodPost, "/impersonate/stop", authenticated, h.StopImpersonation)
	rg.handle(auth, http.MethodPost, "/impersonate/:id", RouteMeta{
		Permissions: []service.Permission{service.StaffOnly},
	}, h.Impersonate)
	rg.handle(auth, http.MethodPost, "/tokens", RouteMeta{
		Permissions: []service.Permission{service.EndUserOnly},
	}, h.CreateAPIToken)

	admin := router.Group("/api/v1/admin")
	rg.handle(admin, http.MethodPost, "/sweep", RouteMeta{
		Permissions: []service.Permission{service.SuperUserOnly},
	}, NewAdminHandler(d.Sweeper).Sweep)

	return router, routes
}
