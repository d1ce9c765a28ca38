package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "autoreq-backend/internal/api/http"
	"autoreq-backend/internal/config"
	"autoreq-backend/internal/dispatch"
	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/jobs"
	"autoreq-backend/internal/lease"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/pacing"
	"autoreq-backend/internal/repository/postgres"
	"autoreq-backend/internal/scheduler"
	"autoreq-backend/internal/security"
	"autoreq-backend/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting AutoReq Engine...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
	logger.Info("Bridge configuration", "url", cfg.Gateway.BridgeURL, "delegate", cfg.Identities.DelegateUserID)

	// Initialize Database
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.JWT.Secret)

	// Initialize Gateway client. A bridge that is down at startup is not
	// fatal; the onboarding service re-checks connectivity per drive.
	gw := gateway.NewClient(cfg.Gateway.BridgeURL, cfg.GatewayRequestTimeout())
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.Ping(pingCtx); err != nil {
		logger.Warn("Bridge not reachable at startup", "error", err)
	}
	cancelPing()

	// Shared pacing: one token bucket, one retry policy, process-wide
	limiter := pacing.NewLimiter(cfg.Pacing.RatePerSecond, cfg.Pacing.Burst)
	retryPolicy := pacing.RetryPolicy{
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxAttempts: cfg.Pacing.RetryMaxAttempts,
		Jitter:      cfg.Pacing.RetryJitterFactor,
	}
	leases := lease.NewRegistry()

	// Initialize Services
	alertSvc := service.NewAlertService(
		cfg.Alerts.SendGridAPIKey,
		cfg.Alerts.FromEmail,
		cfg.Alerts.FromName,
		cfg.Identities.OperatorEmail,
	)
	chatSvc := service.NewChatService(store, store, gw, limiter)
	onboardingSvc := service.NewOnboardingService(
		store, gw, limiter, retryPolicy, leases, alertSvc,
		cfg.Identities.DelegateUserID, cfg.Identities.ControlUserID,
		cfg.Onboarding.MembershipVerifyAttempts,
	)
	requestSvc := service.NewRequestService(store, store, gw, limiter, retryPolicy, leases)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event dispatch: stream -> queue -> worker pool
	updates := make(chan domain.Update, cfg.Dispatch.QueueSize)
	dispatcher := dispatch.NewDispatcher(chatSvc, onboardingSvc, requestSvc, cfg.Dispatch.Workers)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer close(updates)
		if err := gw.StreamUpdates(rootCtx, updates); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Update stream ended", "error", err)
		}
	}()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(rootCtx, updates); err != nil {
			logger.Error("Dispatcher ended", "error", err)
		}
	}()

	// In-process reconciliation: the standalone sweeper binary covers
	// deployments that schedule jobs externally.
	jobRunner := jobs.NewJobRunner(db, store, &jobs.Services{
		Onboarding: onboardingSvc,
		Requests:   requestSvc,
	}, cfg)
	cronScheduler := scheduler.NewScheduler(jobRunner)
	cronScheduler.Start()

	// Operator HTTP API
	router := mux.NewRouter()
	adminHandler := httpapi.NewAdminHandler(chatSvc, onboardingSvc, requestSvc, gw)
	httpapi.RegisterRoutes(router, adminHandler, tokenManager)

	server := &http.Server{
		Addr:    cfg.GetServerAddress(),
		Handler: router,
	}
	go func() {
		logger.Info("Operator API listening", "address", cfg.GetServerAddress())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	cronScheduler.Stop()
	<-streamDone
	<-dispatchDone
	logger.Info("Engine stopped. Goodbye!")
}
