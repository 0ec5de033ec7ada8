package service

import (
	"context"
	"testing"
	"time"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.user(t, "user@x.com", false)

	_, live := f.login(t, u)
	gone, orphan := f.login(t, u)
	if err := f.sessions.Destroy(ctx, gone.Key()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	expired, _ := f.tokens.CreateAPIToken(ctx, u, "old", time.Minute)
	otp, _ := f.otp.Generate(ctx, live)

	sweeper := NewSweeper(f.store, f.sessions, nil)
	sweeper.now = func() time.Time { return f.clock.Now().Add(20 * time.Minute) }
	stats, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.ExpiredTokens != 1 || stats.ExpiredOtps != 1 || stats.OrphanedTokens != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, err := f.store.GetToken(ctx, expired.Token, nil); err == nil {
		t.Fatal("expired token must be swept")
	}
	orphanKey := gone.Key()
	if _, err := f.store.GetToken(ctx, orphan.Token, &orphanKey); err == nil {
		t.Fatal("token of a vanished session must be swept")
	}
	if _, err := f.store.GetToken(ctx, live.Token, live.SessionKey); err != nil {
		t.Fatalf("live token must survive: %v", err)
	}
	if _, _, err := f.otp.Redeem(ctx, otp); err != ErrOtpNotFound {
		t.Fatalf("expired otp must be swept, got %v", err)
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.store, f.sessions, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
