package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	testShort = time.Hour
	testLong  = 30 * 24 * time.Hour
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type routeSet map[string]bool

func (r routeSet) IsAnonymous(route string) bool {
	return r[route]
}

type recordingSink struct {
	events []LoginFailure
}

func (r *recordingSink) LoginFailed(ctx context.Context, f LoginFailure) {
	r.events = append(r.events, f)
}

type fixture struct {
	store    *db.Memory
	mr       *miniredis.Miniredis
	redis    *redis.Client
	sessions *session.Store
	clock    *fakeClock
	policy   SessionPolicy
	tokens   *TokenService
	manager  *SessionManager
	otp      *OtpExchange
	auth     *Authenticator
	imp      *Impersonation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	f := &fixture{
		store:    db.NewMemory(),
		mr:       mr,
		redis:    client,
		sessions: session.NewStore(client, "test:", 14*24*time.Hour),
		clock:    &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		policy:   SessionPolicy{Short: testShort, Long: testLong},
	}
	f.tokens = NewTokenService(f.store, f.policy)
	f.tokens.now = f.clock.Now
	f.manager = NewSessionManager(f.store, f.sessions, f.policy, nil)
	f.manager.now = f.clock.Now
	f.otp = NewOtpExchange(f.store, DefaultOtpLifetime)
	f.otp.now = f.clock.Now
	f.auth = NewAuthenticator(f.store, f.otp, routeSet{"GET /public": true}, nil)
	f.auth.now = f.clock.Now
	f.imp = NewImpersonation(f.store, f.manager)
	return f
}

func (f *fixture) user(t *testing.T, email string, staff bool) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u, err := f.store.CreateUser(context.Background(), &model.User{
		Email:        email,
		PasswordHash: string(hash),
		IsStaff:      staff,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (f *fixture) session(t *testing.T) *session.Session {
	t.Helper()
	sess := f.sessions.New()
	if err := sess.Save(context.Background()); err != nil {
		t.Fatalf("session save: %v", err)
	}
	return sess
}

// login binds a fresh session to user the way the login endpoint does.
func (f *fixture) login(t *testing.T, user *model.User) (*session.Session, *model.AuthToken) {
	t.Helper()
	sess := f.sessions.New()
	tok, err := f.manager.TokenLogin(context.Background(), sess, user, 0)
	if err != nil {
		t.Fatalf("TokenLogin: %v", err)
	}
	return sess, tok
}

func headerFor(tok *model.AuthToken) string {
	return HeaderScheme + " " + tok.Token
}
