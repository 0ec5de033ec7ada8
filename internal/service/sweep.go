package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/session"
)

type SweepStats struct {
	ExpiredTokens  int64 `json:"expired_tokens"`
	ExpiredOtps    int64 `json:"expired_otps"`
	OrphanedTokens int64 `json:"orphaned_tokens"`
}

// Sweeper removes expired tokens and OTPs, and frontend tokens whose
// session is gone from Redis.
type Sweeper struct {
	store    db.Store
	sessions *session.Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store db.Store, sessions *session.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, sessions: sessions, logger: logger, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now()

	n, err := s.store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.ExpiredTokens = n

	n, err = s.store.DeleteExpiredOtps(ctx, 0, now)
	if err != nil {
		return stats, err
	}
	stats.ExpiredOtps = n

	if s.sessions != nil {
		keys, err := s.store.ListFrontendSessionKeys(ctx)
		if err != nil {
			return stats, err
		}
		missing, err := s.sessions.Missing(ctx, keys)
		if err != nil {
			return stats, err
		}
		for _, key := range missing {
			n, err := s.store.DeleteSessionTokens(ctx, key)
			if err != nil {
				return stats, err
			}
			stats.OrphanedTokens += n
		}
	}

	s.logger.InfoContext(ctx, "auth sweep finished",
		"expired_tokens", stats.ExpiredTokens,
		"expired_otps", stats.ExpiredOtps,
		"orphaned_tokens", stats.OrphanedTokens,
	)
	return stats, nil
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "auth sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
