package service

import (
	"context"
	"errors"
	"testing"

	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
)

func newTestAuthService(t *testing.T, allowSignup bool) (*AuthService, *db.Memory, *recordingSink) {
	t.Helper()
	store := db.NewMemory()
	sink := &recordingSink{}
	svc := NewAuthService(store, sink, config.AuthConfig{AllowSignup: allowSignup})
	return svc, store, sink
}

func TestVerifyWrongPasswordEmitsOneEvent(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newTestAuthService(t, true)
	if _, err := svc.Signup(ctx, model.SignupRequest{Email: "user@x.com", Password: "correct horse"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	user, err := svc.Verify(ctx, "user@x.com", "wrongpass", "10.0.0.1")
	if user != nil || !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected rejection, got %v %v", user, err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one failure event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Email != "user@x.com" || ev.RemoteAddr != "10.0.0.1" || ev.At.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestAuthService(t, true)
	u, err := svc.Signup(ctx, model.SignupRequest{Email: "user@x.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	got, err := svc.Verify(ctx, "user@x.com", "correct horse", "")
	if err != nil || got.ID != u.ID {
		t.Fatalf("expected user, got %v %v", got, err)
	}

	if _, err := svc.Verify(ctx, "USER@x.com", "correct horse", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("email match must be exact, got %v", err)
	}
	if _, err := svc.Verify(ctx, "nobody@x.com", "correct horse", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must be rejected, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("unknown emails must not emit events, got %d", len(sink.events))
	}

	store.SetUserActive(u.ID, false)
	if _, err := svc.Verify(ctx, "user@x.com", "correct horse", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive user must be rejected, got %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("inactive login must emit an event, got %d", len(sink.events))
	}
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		allow bool
		req   model.SignupRequest
		want  error
	}{
		{"disabled", false, model.SignupRequest{Email: "a@x.com", Password: "long enough"}, ErrForbidden},
		{"short password", true, model.SignupRequest{Email: "a@x.com", Password: "short"}, ErrInvalidInput},
		{"email in password", true, model.SignupRequest{Email: "a@x.com", Password: "xxA@X.COMxx"}, ErrInvalidInput},
		{"ok", true, model.SignupRequest{Email: "a@x.com", Password: "long enough"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestAuthService(t, tt.allow)
			_, err := svc.Signup(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSignupDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAuthService(t, true)
	req := model.SignupRequest{Email: "a@x.com", Password: "long enough"}
	if _, err := svc.Signup(ctx, req); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.Signup(ctx, req); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestAuthService(t, false)

	if err := svc.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("no admin configured must be a no-op, got %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@x.com", "short"); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@x.com", "long enough"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@x.com", "long enough"); err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}

	u, err := store.GetUserByEmail(ctx, "root@x.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if !u.IsStaff || !u.IsSuperuser || !u.Active() {
		t.Fatalf("unexpected admin %+v", u)
	}
	if _, err := svc.Verify(ctx, "root@x.com", "long enough", ""); err != nil {
		t.Fatalf("admin must be able to log in: %v", err)
	}
}
