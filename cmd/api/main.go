package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mdrennan/bulwark/internal/auth"
	"github.com/mdrennan/bulwark/internal/background"
	"github.com/mdrennan/bulwark/internal/config"
	"github.com/mdrennan/bulwark/internal/database"
	"github.com/mdrennan/bulwark/internal/handlers"
	"github.com/mdrennan/bulwark/internal/ledger"
	middlewareCustom "github.com/mdrennan/bulwark/internal/middleware"
	"github.com/mdrennan/bulwark/internal/repositories"
	"github.com/mdrennan/bulwark/internal/routes"
	"github.com/mdrennan/bulwark/internal/services"
	"github.com/mdrennan/bulwark/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Embedded key-value store for attempt history, lockdown markers and
	// the reputation cache
	kv, err := store.Open(cfg.Security.KVPath, logger)
	if err != nil {
		logger.Error("failed to open key-value store", slog.Any("error", err))
		os.Exit(1)
	}
	defer kv.Close()

	// Postgres for the alert inbox
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	alertRepo := repositories.NewAlertRepository(db)
	alertService := services.NewAlertService(alertRepo, logger)

	// Admin notification dispatcher
	var notifier services.Notifier
	if cfg.Notify.Enabled {
		notifier, err = services.NewAWSSESNotifier(cfg.Notify.AWSRegion, cfg.Notify.FromAddress, cfg.Notify.AdminRecipients, logger)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		notifier = services.NewLogNotifier(logger)
	}
	dispatcher := background.NewDispatcher(notifier, cfg.Notify.QueueSize, cfg.Notify.DrainTimeout, logger)

	// Engine services
	attemptLedger := ledger.New(kv, logger, nil)
	rateLimitService := services.NewRateLimitService(attemptLedger, cfg.Security.Policies, alertService, logger, nil)
	reputationService := services.NewReputationService(kv, alertRepo, cfg.Security.ReputationTTL, logger, nil)
	accountLocks := store.NewAccountLockStore(kv, cfg.Security.LockdownTTL, nil)
	breachService := services.NewBreachService(
		kv,
		reputationService,
		alertService,
		accountLocks,
		dispatcher,
		services.BreachConfig{
			DetectionThreshold:   cfg.Security.BreachDetectionThreshold,
			LockdownThreshold:    cfg.Security.BreachLockdownThreshold,
			LockdownTTL:          cfg.Security.LockdownTTL,
			PayloadSizeThreshold: cfg.Security.PayloadSizeThreshold,
		},
		logger,
		nil,
	)

	cleanupManager := background.NewCleanupManager(alertRepo, kv, cfg.Security.AlertRetention, cfg.Security.CleanupInterval, logger)

	tokenManager := auth.NewTokenManager(cfg.Security.AdminJWTSecret, cfg.Security.AdminTokenExpiry)
	engineHandler := handlers.NewEngineHandler(rateLimitService, breachService)
	adminHandler := handlers.NewAdminHandler(alertService, reputationService, breachService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, engineHandler, adminHandler, tokenManager)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background workers
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	go dispatcher.Start(backgroundCtx)
	go cleanupManager.Start(backgroundCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Stop workers after the server so in-flight requests can still enqueue
	backgroundCancel()
	cleanupManager.Stop()
	dispatcher.Stop()

	logger.Info("server stopped gracefully")
}
