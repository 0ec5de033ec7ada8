package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appity/backend/internal/session"
	"github.com/redis/go-redis/v9"
)

// LoginGate is a fixed-window counter of failed logins per email and per
// client address. It runs before credential verification and learns about
// failures as a FailureSink.
type LoginGate struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
}

func NewLoginGate(redisClient redis.UniversalClient, prefix string, maxAttempts int, window time.Duration, logger *slog.Logger) *LoginGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginGate{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
	}
}

func (g *LoginGate) emailKey(email string) string {
	return g.prefix + "login:email:" + strings.ToLower(strings.TrimSpace(email))
}

func (g *LoginGate) addrKey(addr string) string {
	return g.prefix + "login:addr:" + addr
}

func (g *LoginGate) keys(email, remoteAddr string) []string {
	keys := []string{g.emailKey(email)}
	if remoteAddr != "" {
		keys = append(keys, g.addrKey(remoteAddr))
	}
	return keys
}

// Check returns ErrRateLimited once either counter has reached the limit.
func (g *LoginGate) Check(ctx context.Context, email, remoteAddr string) error {
	if g == nil || g.maxAttempts <= 0 {
		return nil
	}
	for _, key := range g.keys(email, remoteAddr) {
		count, err := g.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
		}
		if count >= int64(g.maxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

func (g *LoginGate) LoginFailed(ctx context.Context, f LoginFailure) {
	if g == nil || g.maxAttempts <= 0 {
		return
	}
	for _, key := range g.keys(f.Email, f.RemoteAddr) {
		if err := g.increment(ctx, key); err != nil {
			g.logger.WarnContext(ctx, "failed to count login failure", "error", err)
		}
	}
}

func (g *LoginGate) Reset(ctx context.Context, email, remoteAddr string) error {
	if g == nil || g.maxAttempts <= 0 {
		return nil
	}
	if err := g.redis.Del(ctx, g.keys(email, remoteAddr)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
	}
	return nil
}

func (g *LoginGate) increment(ctx context.Context, key string) error {
	_, err := incrWindow(ctx, g.redis, key, g.window)
	return err
}

// incrWindow bumps a fixed-window counter; the window starts at the first hit.
func incrWindow(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (int64, error) {
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", session.ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// SignupGate counts every signup request per client address.
type SignupGate struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

func NewSignupGate(redisClient redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *SignupGate {
	return &SignupGate{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow records one attempt and returns ErrRateLimited once the address
// has gone past the limit.
func (g *SignupGate) Allow(ctx context.Context, remoteAddr string) error {
	if g == nil || g.maxAttempts <= 0 {
		return nil
	}
	count, err := incrWindow(ctx, g.redis, g.prefix+"signup:addr:"+remoteAddr, g.window)
	if err != nil {
		return err
	}
	if count > int64(g.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// FailureSinks fans a failure out to every sink in order.
type FailureSinks []FailureSink

func (s FailureSinks) LoginFailed(ctx context.Context, f LoginFailure) {
	for _, sink := range s {
		sink.LoginFailed(ctx, f)
	}
}
