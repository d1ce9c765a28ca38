package jobs

import (
	"database/sql"

	"autoreq-backend/internal/config"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/repository/postgres"
	"autoreq-backend/internal/service"
)

// JobRunner coordinates all scheduled reconciliation jobs
type JobRunner struct {
	db       *sql.DB
	store    *postgres.Store
	services *Services
	config   *config.Config
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Onboarding service.OnboardingService
	Requests   service.RequestService
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(db *sql.DB, store *postgres.Store, services *Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		db:       db,
		store:    store,
		services: services,
		config:   cfg,
	}
}

// Config exposes the configuration for the scheduler's job registration
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAllReconcileJobs runs every sweeper job once (for manual execution)
func (jr *JobRunner) RunAllReconcileJobs() {
	jr.ReDriveStalledOnboarding()
	jr.RetryPendingApprovals()
	jr.RepairCounters()
}
