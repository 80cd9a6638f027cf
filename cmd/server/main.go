package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	webAdapter "barstock/internal/adapters/web"
	"barstock/internal/app"
	"barstock/internal/auth"
	"barstock/internal/cache"
	"barstock/internal/config"
	"barstock/internal/core"
	"barstock/internal/db"
	"barstock/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	// ── domain services ──
	ledger := core.NewLedger(pool)
	settings := core.NewSettingsService(pool)
	catalog := core.NewCatalogService(pool)
	mappings := core.NewMappingService(pool)
	taps := core.NewTapService(pool)
	sales := core.NewSalesService(pool)
	users := core.NewUserService(pool)
	businesses := core.NewBusinessService(pool)
	notifications := core.NewNotificationService(pool)
	hub := core.NewSessionHub()
	expected := core.NewExpectedService(pool, ledger, settings)
	sessions := core.NewSessionService(pool, ledger, settings, hub, notifications, logger)
	engine := core.NewDepletionEngine(pool, ledger, mappings, taps, sales, catalog, settings, logger)
	par := core.NewParService(pool, ledger, expected, settings)
	pattern := core.NewPatternService(pool, settings, logger)
	reporting := core.NewReportingService(pool, settings)
	alerts := core.NewAlertService(pool, settings, notifications, expected, taps, par, logger)
	audit := core.NewAuditService(pool, logger)

	limiter := auth.NewLoginLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst)
	authsvc := auth.NewService(pool, users, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, limiter, logger)

	readCache := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL, logger)

	svc := app.NewAppService(app.Deps{
		Pool:          pool,
		Auth:          authsvc,
		Ledger:        ledger,
		Engine:        engine,
		Hub:           hub,
		Catalog:       catalog,
		Mappings:      mappings,
		Taps:          taps,
		Sales:         sales,
		Sessions:      sessions,
		Settings:      settings,
		Users:         users,
		Businesses:    businesses,
		Notifications: notifications,
		Expected:      expected,
		Par:           par,
		Pattern:       pattern,
		Alerts:        alerts,
		Reporting:     reporting,
		Audit:         audit,
		Cache:         readCache,
		Log:           logger,
	})

	handler := webAdapter.NewHandler(svc, authsvc, cfg.CronSecret, cfg.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort), zap.String("env", cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}
