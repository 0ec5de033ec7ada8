package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/appity/backend/internal/session"
)

func TestTokenLoginResetsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)

	sess := f.session(t)
	sess.Set("leftover", "1")
	_ = sess.Save(ctx)
	oldKey := sess.Key()
	stale, err := f.manager.InitializeFrontendToken(ctx, u, oldKey, 0)
	if err != nil {
		t.Fatalf("InitializeFrontendToken: %v", err)
	}

	tok, err := f.manager.TokenLogin(ctx, sess, u, 0)
	if err != nil {
		t.Fatalf("TokenLogin: %v", err)
	}
	if sess.Key() == "" || sess.Key() == oldKey {
		t.Fatal("login must move to a new session key")
	}
	if sess.Has("leftover") {
		t.Fatal("login must drop previous session data")
	}
	if v, _ := sess.Get(session.KeyToken); v != tok.Token {
		t.Fatalf("session token %q, want %q", v, tok.Token)
	}
	if id, _ := sess.GetInt64(session.KeyUserID); id != u.ID {
		t.Fatalf("session user %d, want %d", id, u.ID)
	}
	if f.mr.Exists("test:session:" + oldKey) {
		t.Fatal("old session data should be gone")
	}
	if _, err := f.store.GetToken(ctx, stale.Token, &oldKey); err == nil {
		t.Fatal("tokens of the old session should be gone")
	}
	if !sess.ExpireAtBrowserClose() {
		t.Fatal("short login should be a browser session")
	}
}

func TestTokenLoginRemember(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)
	sess := f.sessions.New()

	tok, err := f.manager.TokenLogin(context.Background(), sess, u, testLong)
	if err != nil {
		t.Fatalf("TokenLogin: %v", err)
	}
	if sess.CookieMaxAge() != int(testLong/time.Second) {
		t.Fatalf("expected long cookie, got %d", sess.CookieMaxAge())
	}
	if !tok.ExpireAt.Equal(f.clock.Now().Add(testLong)) {
		t.Fatalf("unexpected expiry %v", tok.ExpireAt)
	}
}

func TestExtendFrontendSessionRotates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)
	sess, old := f.login(t, u)
	oldKey := sess.Key()
	sess.Set(session.KeyActiveClientID, "7")
	_ = sess.Save(ctx)

	f.clock.Advance(time.Minute)
	tok, err := f.manager.ExtendFrontendSession(ctx, u, old, sess, true)
	if err != nil {
		t.Fatalf("ExtendFrontendSession: %v", err)
	}
	if sess.Key() == oldKey || !tok.BoundTo(sess.Key()) {
		t.Fatal("extend must bind a new token to a new session key")
	}
	if tok.Token == old.Token {
		t.Fatal("extend must issue a new token")
	}
	if !tok.ExpireAt.Equal(f.clock.Now().Add(testLong)) {
		t.Fatalf("expected long expiry, got %v", tok.ExpireAt)
	}

	reloaded, err := f.sessions.Load(ctx, sess.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := reloaded.Get(session.KeyToken); v != tok.Token {
		t.Fatalf("stored token %q, want %q", v, tok.Token)
	}
	if v, _ := reloaded.Get(session.KeyActiveClientID); v != "7" {
		t.Fatal("session data must carry over")
	}
	if reloaded.CookieMaxAge() != int(testLong/time.Second) {
		t.Fatalf("expected remembered session, got max age %d", reloaded.CookieMaxAge())
	}

	if f.mr.Exists("test:session:" + oldKey) {
		t.Fatal("old session must be destroyed")
	}
	if _, err := f.store.GetToken(ctx, old.Token, &oldKey); err == nil {
		t.Fatal("old token must be deleted")
	}
}

func TestExtendFrontendSessionWithoutRemember(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)
	sess, old := f.login(t, u)

	tok, err := f.manager.ExtendFrontendSession(context.Background(), u, old, sess, false)
	if err != nil {
		t.Fatalf("ExtendFrontendSession: %v", err)
	}
	if !sess.ExpireAtBrowserClose() {
		t.Fatal("expected a browser session")
	}
	if !tok.ExpireAt.Equal(f.clock.Now().Add(testShort)) {
		t.Fatalf("expected short expiry, got %v", tok.ExpireAt)
	}
}

func TestExtendFrontendSessionRejectsAPIToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)
	sess := f.session(t)
	api, _ := f.tokens.CreateAPIToken(ctx, u, "ci", 0)

	_, err := f.manager.ExtendFrontendSession(ctx, u, api, sess, false)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)
	sess, tok := f.login(t, u)
	key := sess.Key()

	if err := f.manager.Logout(ctx, sess, tok); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if sess.Key() != "" || f.mr.Exists("test:session:"+key) {
		t.Fatal("logout must flush the session")
	}
	if _, err := f.store.GetToken(ctx, tok.Token, &key); err == nil {
		t.Fatal("logout must delete the token")
	}
	// logging out twice is harmless
	if err := f.manager.Logout(ctx, sess, tok); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestExtendFrontendSessionEndsImpersonation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.user(t, "admin@x.com", true)
	target := f.user(t, "target@x.com", false)
	sess, adminTok := f.login(t, admin)
	oldKey := sess.Key()

	targetTok, err := f.imp.Start(ctx, admin, target, sess)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Set(session.KeyActiveClientID, "7")
	_ = sess.Save(ctx)

	tok, err := f.manager.ExtendFrontendSession(ctx, admin, adminTok, sess, false)
	if err != nil {
		t.Fatalf("ExtendFrontendSession: %v", err)
	}

	reloaded, err := f.sessions.Load(ctx, sess.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, key := range []string{session.KeyImpersonate, session.KeyImpersonator, session.KeyActiveClientID} {
		if reloaded.Has(key) {
			t.Fatalf("%s must not survive the rotation", key)
		}
	}
	if _, ok := Impersonating(reloaded); ok {
		t.Fatal("rotated session must not be impersonating")
	}

	got, err := f.imp.FrontendTokenForRequest(ctx, "/api/v1/things", reloaded, tok)
	if err != nil || got == nil || got.ID != tok.ID {
		t.Fatalf("api calls must act with the new admin token, got %+v %v", got, err)
	}
	if _, err := f.store.GetToken(ctx, targetTok.Token, &oldKey); err == nil {
		t.Fatal("target token of the old session must be deleted")
	}

	res := f.auth.Authenticate(ctx, Credentials{
		Method:        "GET",
		Route:         "GET /private",
		Authorization: headerFor(tok),
		Session:       reloaded,
	})
	if res.Outcome != Authenticated || res.Identity.User.ID != admin.ID {
		t.Fatalf("expected the new token to authenticate as admin, got %v %v", res.Outcome, res.Err)
	}
}
