package service

import (
	"context"
	"errors"
	"fmt"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/lease"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/pacing"
	"autoreq-backend/internal/repository"
)

type requestService struct {
	chats    repository.ChatRepository
	requests repository.RequestRepository
	gw       gateway.Gateway
	limiter  *pacing.Limiter
	retry    pacing.RetryPolicy
	leases   *lease.Registry
}

func NewRequestService(
	chats repository.ChatRepository,
	requests repository.RequestRepository,
	gw gateway.Gateway,
	limiter *pacing.Limiter,
	retry pacing.RetryPolicy,
	leases *lease.Registry,
) RequestService {
	return &requestService{
		chats:    chats,
		requests: requests,
		gw:       gw,
		limiter:  limiter,
		retry:    retry,
		leases:   leases,
	}
}

func (s *requestService) HandleJoinRequest(ctx context.Context, ev domain.JoinRequestReceived) (*ApprovalOutcome, error) {
	chat, err := s.chats.GetByID(ctx, ev.ChatID)
	if errors.Is(err, repository.ErrNotFound) {
		// The platform only delivers join requests for chats the control
		// identity administers; an unknown chat means we missed (or never
		// got) its membership event. Recording it would hide that bug.
		logger.Warn("Join request for untracked chat dropped", "chat_id", ev.ChatID, "user_id", ev.UserID)
		return &ApprovalOutcome{ChatID: ev.ChatID, UserID: ev.UserID, Deferred: true, Reason: "chat not tracked"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", ev.ChatID, err)
	}

	release, ok := s.leases.TryAcquire(lease.RequestKey(ev.ChatID, ev.UserID))
	if !ok {
		// A concurrent trigger is already working this (chat, user);
		// exactly one approve call must go out.
		return &ApprovalOutcome{ChatID: ev.ChatID, UserID: ev.UserID, Status: domain.RequestStatusPending,
			Deferred: true, Reason: "approval already in flight"}, nil
	}
	defer release()

	req := &domain.Request{
		ChatID:      ev.ChatID,
		UserID:      ev.UserID,
		Username:    ev.Username,
		DisplayName: ev.DisplayName,
		RequestedAt: ev.RequestedAt,
	}
	created, err := s.requests.InsertPending(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("record join request: %w", err)
	}
	if !created {
		logger.Debug("Duplicate join request delivery", "chat_id", ev.ChatID, "user_id", ev.UserID)
	} else {
		logger.Info("Join request recorded", "chat_id", ev.ChatID, "user_id", ev.UserID, "username", ev.Username)
	}

	// Expected outcome, not an error: the request waits for the chat to
	// come READY and the sweeper picks it up.
	if !chat.AcceptsRequests() {
		return &ApprovalOutcome{ChatID: ev.ChatID, UserID: ev.UserID, Status: domain.RequestStatusPending,
			Deferred: true, Reason: deferralReason(chat)}, nil
	}

	return s.approve(ctx, req), nil
}

func deferralReason(chat *domain.Chat) string {
	if !chat.Active {
		return "chat inactive"
	}
	return fmt.Sprintf("chat onboarding state is %s", chat.OnboardingState)
}

// approve drives one pending request to a terminal status through the
// shared limiter and retry policy. Failures are recorded, never raised.
func (s *requestService) approve(ctx context.Context, req *domain.Request) *ApprovalOutcome {
	outcome := &ApprovalOutcome{ChatID: req.ChatID, UserID: req.UserID}

	err := s.retry.Do(ctx, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return s.gw.ApproveJoinRequest(ctx, req.ChatID, req.UserID)
	}, gateway.IsTransient)

	switch {
	case err == nil:
		if terr := s.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusPending, domain.RequestStatusAccepted); terr != nil {
			// A CAS miss here means another actor already finished this
			// request; the approve call was idempotent on the platform side.
			logger.Warn("Accepted request transition conflict", "request_id", req.ID, "error", terr)
			outcome.Status = domain.RequestStatusPending
			outcome.Reason = terr.Error()
			return outcome
		}
		logger.Info("Join request accepted", "chat_id", req.ChatID, "user_id", req.UserID)
		outcome.Status = domain.RequestStatusAccepted

	case errors.Is(err, gateway.ErrNotFound):
		// Cancelled by the user or already handled by a human admin.
		if terr := s.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusPending, domain.RequestStatusExpired); terr != nil {
			logger.Warn("Expired request transition conflict", "request_id", req.ID, "error", terr)
		}
		logger.Info("Join request expired on platform", "chat_id", req.ChatID, "user_id", req.UserID)
		outcome.Status = domain.RequestStatusExpired

	default:
		// Transient exhaustion or an unrecoverable platform error: stay
		// pending with the attempt recorded for the sweeper and operator.
		if rerr := s.requests.RecordAttempt(ctx, req.ID, err.Error()); rerr != nil {
			logger.Error("Could not record approval attempt", "request_id", req.ID, "error", rerr)
		}
		logger.Warn("Join request approval failed", "chat_id", req.ChatID, "user_id", req.UserID, "error", err)
		outcome.Status = domain.RequestStatusPending
		outcome.Reason = err.Error()
	}
	return outcome
}

func (s *requestService) ApproveAllPending(ctx context.Context, chatID int64) (*BulkSummary, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", chatID, err)
	}

	// Oldest first: fairness for users who asked earliest.
	pending, err := s.requests.ListPendingByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list pending for chat %d: %w", chatID, err)
	}

	summary := &BulkSummary{ChatID: chatID}
	for i := range pending {
		if ctx.Err() != nil {
			summary.Skipped += len(pending) - i
			break
		}
		if !chat.AcceptsRequests() {
			summary.Skipped = len(pending) - i
			break
		}

		req := &pending[i]
		release, ok := s.leases.TryAcquire(lease.RequestKey(req.ChatID, req.UserID))
		if !ok {
			summary.Skipped++
			continue
		}
		outcome := s.approve(ctx, req)
		release()

		if outcome.Status == domain.RequestStatusAccepted {
			summary.Approved++
		} else if outcome.Status == domain.RequestStatusExpired {
			// Resolved, just not by us; not a failure.
			summary.Approved++
		} else {
			summary.Failed++
		}
	}

	logger.Info("Bulk approval finished", "chat_id", chatID,
		"approved", summary.Approved, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

func (s *requestService) Retry(ctx context.Context, req *domain.Request) (*ApprovalOutcome, error) {
	chat, err := s.chats.GetByID(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", req.ChatID, err)
	}
	if !chat.AcceptsRequests() {
		return &ApprovalOutcome{ChatID: req.ChatID, UserID: req.UserID, Status: domain.RequestStatusPending,
			Deferred: true, Reason: deferralReason(chat)}, nil
	}

	release, ok := s.leases.TryAcquire(lease.RequestKey(req.ChatID, req.UserID))
	if !ok {
		return &ApprovalOutcome{ChatID: req.ChatID, UserID: req.UserID, Status: domain.RequestStatusPending,
			Deferred: true, Reason: "approval already in flight"}, nil
	}
	defer release()

	return s.approve(ctx, req), nil
}
