package jobs

import (
	"context"
	"errors"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/service"
)

// retryBatchSize caps how many stuck requests one sweeper pass picks up,
// so a backlog drains across runs instead of monopolizing the limiter.
const retryBatchSize = 100

// ReDriveStalledOnboarding re-drives chats whose onboarding sat in a
// non-terminal state longer than the stall timeout. Chats parked in
// NEEDS_MANUAL_INTERVENTION are left for the operator.
func (jr *JobRunner) ReDriveStalledOnboarding() {
	jr.runWithRecovery("ReDriveStalledOnboarding", func() {
		ctx := context.Background()
		cutoff := time.Now().Add(-jr.config.OnboardingStallTimeout())

		stalled, err := jr.store.ListStalledOnboarding(ctx, cutoff)
		if err != nil {
			logger.Error("Failed to list stalled onboarding chats", "error", err)
			return
		}

		driven, skipped := 0, 0
		for _, chat := range stalled {
			report, err := jr.services.Onboarding.Drive(ctx, chat.ChatID)
			switch {
			case errors.Is(err, service.ErrDriveInProgress):
				skipped++
			case err != nil:
				logger.Warn("Stalled onboarding re-drive failed",
					"chat_id", chat.ChatID, "state", chat.OnboardingState, "error", err)
			default:
				driven++
				logger.Debug("Stalled onboarding re-driven",
					"chat_id", chat.ChatID, "from", chat.OnboardingState, "to", report.State)
			}
		}

		logger.Info("Re-drove stalled onboarding", "found", len(stalled), "driven", driven, "skipped", skipped)
	})
}

// RetryPendingApprovals re-attempts approval for pending requests with
// recorded failures whose chat is active and READY.
func (jr *JobRunner) RetryPendingApprovals() {
	jr.runWithRecovery("RetryPendingApprovals", func() {
		ctx := context.Background()

		stuck, err := jr.store.ListRetryable(ctx, 1, retryBatchSize)
		if err != nil {
			logger.Error("Failed to list retryable requests", "error", err)
			return
		}

		accepted, expired, still := 0, 0, 0
		for i := range stuck {
			req := &stuck[i]
			outcome, err := jr.services.Requests.Retry(ctx, req)
			if err != nil {
				logger.Warn("Pending approval retry failed",
					"chat_id", req.ChatID, "user_id", req.UserID, "error", err)
				continue
			}
			switch outcome.Status {
			case domain.RequestStatusAccepted:
				accepted++
			case domain.RequestStatusExpired:
				expired++
			default:
				still++
			}
		}

		logger.Info("Retried pending approvals",
			"found", len(stuck), "accepted", accepted, "expired", expired, "still_pending", still)
	})
}

// RepairCounters recomputes each chat's counters from its request rows
// and overwrites any drifted denormalized values.
func (jr *JobRunner) RepairCounters() {
	jr.runWithRecovery("RepairCounters", func() {
		ctx := context.Background()

		chats, err := jr.store.List(ctx)
		if err != nil {
			logger.Error("Failed to list chats for counter repair", "error", err)
			return
		}

		repaired := 0
		for _, chat := range chats {
			stats, err := jr.store.AggregateStats(ctx, chat.ChatID)
			if err != nil {
				logger.Error("Failed to aggregate request stats", "chat_id", chat.ChatID, "error", err)
				continue
			}
			if stats.Total == chat.TotalRequests &&
				stats.Pending == chat.PendingRequests &&
				stats.Accepted == chat.AcceptedRequests {
				continue
			}

			logger.Warn("Chat counters drifted from request rows",
				"chat_id", chat.ChatID,
				"stored_total", chat.TotalRequests, "actual_total", stats.Total,
				"stored_pending", chat.PendingRequests, "actual_pending", stats.Pending,
				"stored_accepted", chat.AcceptedRequests, "actual_accepted", stats.Accepted)

			if err := jr.store.SetCounters(ctx, chat.ChatID, stats.Total, stats.Pending, stats.Accepted); err != nil {
				logger.Error("Failed to repair chat counters", "chat_id", chat.ChatID, "error", err)
				continue
			}
			repaired++
		}

		logger.Info("Repaired chat counters", "checked", len(chats), "repaired", repaired)
	})
}
