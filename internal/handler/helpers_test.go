package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/service"
	"github.com/appity/backend/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "password123"

type testServer struct {
	router http.Handler
	routes Routes
	store  *db.Memory
	mr     *miniredis.Miniredis
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Addr:            ":0",
			CORSOrigins:     []string{"http://app.test"},
			CORSCredentials: true,
			StoreDriver:     "memory",
			ShutdownTimeout: time.Second,
		},
		Session: config.SessionConfig{
			CookieName:     "sessionid",
			CookiePath:     "/",
			CookieSameSite: "lax",
			ServerTTL:      14 * 24 * time.Hour,
		},
		Auth: config.AuthConfig{
			ShortSessionSeconds: 3600,
			LongSessionSeconds:  30 * 24 * 3600,
			OtpLifetimeSeconds:  600,
			AllowSignup:         true,
			MaxLoginAttempts:    3,
			LoginWindow:         15 * time.Minute,
			MaxSignupAttempts:   2,
			SignupWindow:        time.Hour,
		},
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := db.NewMemory()
	sessions := session.NewStore(client, "test:", cfg.Session.ServerTTL)
	policy := service.NewSessionPolicy(cfg.Auth)
	gate := service.NewLoginGate(client, "test:", cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginWindow, logger)
	manager := service.NewSessionManager(store, sessions, policy, logger)

	router, routes := NewRouter(Deps{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Sessions:      sessions,
		Auth:          service.NewAuthService(store, service.FailureSinks{service.LogFailureSink{Logger: logger}, gate}, cfg.Auth),
		Gate:          gate,
		Signups:       service.NewSignupGate(client, "test:", cfg.Auth.MaxSignupAttempts, cfg.Auth.SignupWindow),
		Manager:       manager,
		Tokens:        service.NewTokenService(store, policy),
		Otp:           service.NewOtpExchange(store, time.Duration(cfg.Auth.OtpLifetimeSeconds)*time.Second),
		Impersonation: service.NewImpersonation(store, manager),
		Sweeper:       service.NewSweeper(store, sessions, logger),
	})
	return &testServer{router: router, routes: routes, store: store, mr: mr}
}

func (s *testServer) user(t *testing.T, email string, staff bool) *model.User {
	t.Helper()
	return s.createUser(t, &model.User{Email: email, FirstName: "Test", IsStaff: staff})
}

func (s *testServer) createUser(t *testing.T, u *model.User) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u.PasswordHash = string(hash)
	created, err := s.store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return created
}

// browser keeps the session cookie and the frontend token between calls.
type browser struct {
	t      *testing.T
	srv    *testServer
	cookie *http.Cookie
	token  string
}

func (s *testServer) newBrowser(t *testing.T) *browser {
	return &browser{t: t, srv: s}
}

func (b *browser) do(method, path, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	if b.token != "" {
		req.Header.Set("Authorization", service.HeaderScheme+" "+b.token)
	}

	w := httptest.NewRecorder()
	b.srv.router.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.Name != "sessionid" {
			continue
		}
		if ck.MaxAge < 0 || ck.Value == "" {
			b.cookie = nil
		} else {
			b.cookie = ck
		}
	}
	return w
}

// login posts credentials and adopts the returned frontend token.
func (b *browser) login(email string, remember bool) model.CurrentUserResponse {
	b.t.Helper()
	body := `{"email":"` + email + `","password":"` + testPassword + `","remember_me":` + boolString(remember) + `}`
	w := b.do(http.MethodPost, "/api/v1/auth/login", body)
	if w.Code != http.StatusOK {
		b.t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[model.CurrentUserResponse](b.t, w)
	b.adopt(resp)
	return resp
}

func (b *browser) adopt(resp model.CurrentUserResponse) {
	b.t.Helper()
	if resp.User == nil || resp.User.AuthToken == nil || resp.User.AuthToken.Token == nil {
		b.t.Fatalf("response carries no token: %+v", resp)
	}
	b.token = *resp.User.AuthToken.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
