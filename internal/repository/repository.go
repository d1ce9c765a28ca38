package repository

import (
	"context"
	"errors"
	"time"

	"autoreq-backend/internal/domain"
)

var (
	// ErrNotFound is returned when a chat or request row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrStateConflict is returned when a compare-and-set update finds a
	// different state than expected, meaning a concurrent actor got there
	// first. Callers abort the operation; nothing is partially applied.
	ErrStateConflict = errors.New("repository: state conflict")
)

type ChatRepository interface {
	Upsert(ctx context.Context, chat *domain.Chat) error
	GetByID(ctx context.Context, chatID int64) (*domain.Chat, error)
	List(ctx context.Context) ([]domain.Chat, error)
	ListByKind(ctx context.Context, kind domain.ChatKind) ([]domain.Chat, error)
	SetActive(ctx context.Context, chatID int64, active bool) error
	SetInviteLink(ctx context.Context, chatID int64, link string) error

	// SetOnboardingState advances onboarding state with compare-and-set
	// semantics: the update only applies if the stored state equals
	// expected, otherwise ErrStateConflict. hint replaces the stored
	// remediation hint (empty clears it).
	SetOnboardingState(ctx context.Context, chatID int64, expected, next domain.OnboardingState, hint string) error

	SetAdminConfirmed(ctx context.Context, chatID int64, confirmed bool) error
	IncrementCounters(ctx context.Context, chatID int64, d domain.CounterDeltas) error
	SetCounters(ctx context.Context, chatID int64, total, pending, accepted int64) error

	// ListStalledOnboarding returns active chats sitting in a non-terminal
	// onboarding state whose last transition is older than cutoff.
	ListStalledOnboarding(ctx context.Context, cutoff time.Time) ([]domain.Chat, error)
}

type RequestRepository interface {
	// InsertPending records a join request idempotently: if a pending row
	// already exists for (chat, user) it is returned with created=false
	// and no counters change. Otherwise a new pending row is inserted and
	// the chat's total and pending counters are bumped in the same
	// transaction.
	InsertPending(ctx context.Context, req *domain.Request) (created bool, err error)

	GetPending(ctx context.Context, chatID, userID int64) (*domain.Request, error)

	// ListPendingByChat returns pending requests oldest first.
	ListPendingByChat(ctx context.Context, chatID int64) ([]domain.Request, error)

	// ListRetryable returns pending requests with at least minAttempts
	// recorded failures whose chat is active and READY.
	ListRetryable(ctx context.Context, minAttempts int32, limit int32) ([]domain.Request, error)

	// TransitionStatus moves a request from one status to another with
	// compare-and-set semantics and applies the matching chat counter
	// deltas in the same transaction, so counters and statuses cannot
	// drift independently. Accepting sets accepted_at.
	TransitionStatus(ctx context.Context, id int64, from, to domain.RequestStatus) error

	// RecordAttempt bumps the attempt count and stores the last error for
	// a request left pending after a failed approval.
	RecordAttempt(ctx context.Context, id int64, lastError string) error

	// AggregateStats recomputes the per-chat breakdown from Request rows.
	AggregateStats(ctx context.Context, chatID int64) (*domain.ChatStats, error)
}
