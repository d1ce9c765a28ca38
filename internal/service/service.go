package service

import (
	"context"
	"errors"

	"autoreq-backend/internal/domain"
)

// ErrDriveInProgress means another onboarding drive already holds the
// chat's lease. The caller skips; it does not wait.
var ErrDriveInProgress = errors.New("service: onboarding drive already in progress")

// OnboardingReport is the structured outcome of an onboarding drive.
type OnboardingReport struct {
	ChatID             int64                  `json:"chat_id"`
	State              domain.OnboardingState `json:"state"`
	NeedsInviteRenewal bool                   `json:"needs_invite_renewal,omitempty"`
	RemediationHint    string                 `json:"remediation_hint,omitempty"`
}

// ApprovalOutcome is the structured outcome of one approval attempt.
type ApprovalOutcome struct {
	ChatID   int64                `json:"chat_id"`
	UserID   int64                `json:"user_id"`
	Status   domain.RequestStatus `json:"status"`
	Deferred bool                 `json:"deferred,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// BulkSummary tallies an approve-all pass over a chat's pending requests.
type BulkSummary struct {
	ChatID   int64 `json:"chat_id"`
	Approved int   `json:"approved"`
	Failed   int   `json:"failed"`
	Skipped  int   `json:"skipped"`
}

type ChatService interface {
	Register(ctx context.Context, chatID int64, kind domain.ChatKind, title string, addedBy int64) (*domain.Chat, error)
	Deactivate(ctx context.Context, chatID int64) error
	Get(ctx context.Context, chatID int64) (*domain.Chat, error)
	List(ctx context.Context, kind domain.ChatKind) ([]domain.Chat, error)
	Stats(ctx context.Context, chatID int64) (*domain.ChatStats, error)
	HandleMembershipChange(ctx context.Context, ev domain.ChatMembershipChanged) (*domain.Chat, error)
}

type OnboardingService interface {
	// Drive moves a chat's onboarding forward from its persisted state to
	// a terminal state, or as far as transient conditions allow. Every
	// step is persisted before it runs so a crash resumes, not restarts.
	Drive(ctx context.Context, chatID int64) (*OnboardingReport, error)

	// RefreshInvite mints a fresh invite link for the chat and stores it.
	RefreshInvite(ctx context.Context, chatID int64) (string, error)
}

type RequestService interface {
	// HandleJoinRequest durably records the event exactly once and, if
	// the chat is active and READY, drives it to a terminal status.
	HandleJoinRequest(ctx context.Context, ev domain.JoinRequestReceived) (*ApprovalOutcome, error)

	// ApproveAllPending processes a chat's pending requests oldest first,
	// continuing past individual failures.
	ApproveAllPending(ctx context.Context, chatID int64) (*BulkSummary, error)

	// Retry re-attempts approval for a request left pending with recorded
	// failures. Used by the reconciliation sweeper.
	Retry(ctx context.Context, req *domain.Request) (*ApprovalOutcome, error)
}

type AlertService interface {
	// ManualInterventionNeeded tells the operator a chat needs a human,
	// with the stored remediation hint.
	ManualInterventionNeeded(ctx context.Context, chat *domain.Chat, hint string) error

	// InviteRenewalNeeded asks the operator to refresh a chat's invite.
	InviteRenewalNeeded(ctx context.Context, chat *domain.Chat) error
}
