package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"autoreq-backend/internal/config"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/jobs"
	"autoreq-backend/internal/lease"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/pacing"
	"autoreq-backend/internal/repository/postgres"
	"autoreq-backend/internal/scheduler"
	"autoreq-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 're-drive-onboarding', 'retry-pending', 'repair-counters', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting AutoReq Sweeper...", "log_level", cfg.Log.Level)

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
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

	// Initialize Gateway client. The sweeper shares the delegate's global
	// rate ceiling with the engine, so it uses the same pacing settings.
	gw := gateway.NewClient(cfg.Gateway.BridgeURL, cfg.GatewayRequestTimeout())
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.Ping(pingCtx); err != nil {
		logger.Warn("Bridge not reachable at startup, onboarding re-drives will skip", "error", err)
	}
	cancelPing()
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
	onboardingSvc := service.NewOnboardingService(
		store, gw, limiter, retryPolicy, leases, alertSvc,
		cfg.Identities.DelegateUserID, cfg.Identities.ControlUserID,
		cfg.Onboarding.MembershipVerifyAttempts,
	)
	requestSvc := service.NewRequestService(store, store, gw, limiter, retryPolicy, leases)

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(db, store, &jobs.Services{
		Onboarding: onboardingSvc,
		Requests:   requestSvc,
	}, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler := scheduler.NewScheduler(jobRunner)

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Sweeper scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down sweeper scheduler...")
	cronScheduler.Stop()
	logger.Info("Sweeper scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case "re-drive-onboarding":
		jobRunner.ReDriveStalledOnboarding()
	case "retry-pending":
		jobRunner.RetryPendingApprovals()
	case "repair-counters":
		jobRunner.RepairCounters()
	case "all":
		jobRunner.RunAllReconcileJobs()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - re-drive-onboarding\n")
		fmt.Printf("  - retry-pending\n")
		fmt.Printf("  - repair-counters\n")
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}
