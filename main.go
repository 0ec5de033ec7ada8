package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/handler"
	"github.com/appity/backend/internal/logging"
	"github.com/appity/backend/internal/service"
	"github.com/appity/backend/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env 파일이 없어도 계속 진행
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return errors.Join(session.ErrRedisUnavailable, err)
	}

	deps := buildDeps(cfg, logger, store, redisClient)
	if err := deps.Auth.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return err
	}
	router, _ := handler.NewRouter(deps)

	go deps.Sweeper.Run(ctx, cfg.Auth.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Server.StoreDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildDeps wires the services. Every Redis key lives under
// cfg.Redis.KeyPrefix.
func buildDeps(cfg config.Config, logger *slog.Logger, store db.Store, redisClient redis.UniversalClient) handler.Deps {
	sessions := session.NewStore(redisClient, cfg.Redis.KeyPrefix, cfg.Session.ServerTTL)
	policy := service.NewSessionPolicy(cfg.Auth)
	gate := service.NewLoginGate(redisClient, cfg.Redis.KeyPrefix, cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginWindow, logger)
	sinks := service.FailureSinks{service.LogFailureSink{Logger: logger}, gate}
	if cfg.Auth.FailureWebhookURL != "" {
		sinks = append(sinks, service.NewWebhookFailureSink(cfg.Auth.FailureWebhookURL, logger))
	}
	manager := service.NewSessionManager(store, sessions, policy, logger)

	return handler.Deps{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Sessions:      sessions,
		Auth:          service.NewAuthService(store, sinks, cfg.Auth),
		Gate:          gate,
		Signups:       service.NewSignupGate(redisClient, cfg.Redis.KeyPrefix, cfg.Auth.MaxSignupAttempts, cfg.Auth.SignupWindow),
		Manager:       manager,
		Tokens:        service.NewTokenService(store, policy),
		Otp:           service.NewOtpExchange(store, time.Duration(cfg.Auth.OtpLifetimeSeconds)*time.Second),
		Impersonation: service.NewImpersonation(store, manager),
		Sweeper:       service.NewSweeper(store, sessions, logger),
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (db.Store, func(), error) {
	if cfg.Server.StoreDriver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return db.NewMemory(), func() {}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	pg := db.NewPostgres(pool)
	if err := pg.EnsureAuthSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
