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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/smartvillage/gatekeeper/internal/app"
	"github.com/smartvillage/gatekeeper/internal/audit"
	"github.com/smartvillage/gatekeeper/internal/gateway"
	"github.com/smartvillage/gatekeeper/internal/identity"
	"github.com/smartvillage/gatekeeper/internal/observability"
	"github.com/smartvillage/gatekeeper/internal/override"
	"github.com/smartvillage/gatekeeper/internal/platform/cache"
	"github.com/smartvillage/gatekeeper/internal/platform/db"
	"github.com/smartvillage/gatekeeper/internal/ratelimit"
	"github.com/smartvillage/gatekeeper/internal/rbac"
	"github.com/smartvillage/gatekeeper/internal/scope"
	"github.com/smartvillage/gatekeeper/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == "memory" || redisClient == nil {
		limiter = ratelimit.NewSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(logger, identityRepo)
	tokenIssuer := identity.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	authMiddleware := identity.NewMiddleware(logger, tokenIssuer, identityService)
	identityHandler := identity.NewHandler(logger, identityService, tokenIssuer)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	scopeRepo := scope.NewRepository(pool)
	scopeService := scope.NewService(scopeRepo)
	scopeHandler := scope.NewHandler(logger, scopeService)

	overrideRepo := override.NewRepository(pool)
	overrideService := override.NewService(overrideRepo, logger)
	overrideHandler := override.NewHandler(logger, overrideService)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)
	auditHandler := audit.NewHandler(logger, auditService)

	metrics := observability.NewMetrics()

	authz := gateway.New(logger, limiter, rbacService, scopeService, overrideService, auditService)
	authz.SetMetrics(metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authMiddleware,
		IdentityHandler: identityHandler,
		RBACHandler:     rbacHandler,
		ScopeHandler:    scopeHandler,
		OverrideHandler: overrideHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Gateway:         authz,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Ticker fallback so expired grants get flipped even when no
	// worker process is running.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.OverrideSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(groupCtx, 30*time.Second)
				swept, err := overrideService.Sweep(sweepCtx)
				cancel()
				if err != nil {
					logger.Error("override sweep", slog.Any("error", err))
					continue
				}
				if swept > 0 {
					logger.Info("override sweep deactivated grants", slog.Int64("count", swept))
				}
			}
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("stopped")
}
