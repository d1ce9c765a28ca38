package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/repository"
)

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) repository.ChatRepository {
	return &chatRepository{db: db}
}

const chatColumns = `chat_id, kind, title, invite_link, added_by, active, onboarding_state,
	admin_confirmed, remediation_hint, total_requests, pending_requests, accepted_requests,
	added_on, state_changed_on`

func scanChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	c := &domain.Chat{}
	err := row.Scan(&c.ChatID, &c.Kind, &c.Title, &c.InviteLink, &c.AddedBy, &c.Active,
		&c.OnboardingState, &c.AdminConfirmed, &c.RemediationHint,
		&c.TotalRequests, &c.PendingRequests, &c.AcceptedRequests,
		&c.AddedOn, &c.StateChangedOn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *chatRepository) Upsert(ctx context.Context, chat *domain.Chat) error {
	if chat.OnboardingState == "" {
		chat.OnboardingState = domain.OnboardingNotStarted
	}
	query := `INSERT INTO chats (chat_id, kind, title, invite_link, added_by, active,
	              onboarding_state, added_on, state_changed_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	          ON CONFLICT (chat_id) DO UPDATE
	          SET title = EXCLUDED.title,
	              invite_link = COALESCE(EXCLUDED.invite_link, chats.invite_link),
	              active = EXCLUDED.active
	          RETURNING added_on, state_changed_on, onboarding_state`
	err := r.db.QueryRowContext(ctx, query,
		chat.ChatID, chat.Kind, chat.Title, chat.InviteLink, chat.AddedBy, chat.Active,
		chat.OnboardingState,
	).Scan(&chat.AddedOn, &chat.StateChangedOn, &chat.OnboardingState)
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", chat.ChatID, err)
	}
	return nil
}

func (r *chatRepository) GetByID(ctx context.Context, chatID int64) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE chat_id = $1`
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *chatRepository) List(ctx context.Context) ([]domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats ORDER BY added_on`
	return r.queryChats(ctx, query)
}

func (r *chatRepository) ListByKind(ctx context.Context, kind domain.ChatKind) ([]domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE kind = $1 ORDER BY added_on`
	return r.queryChats(ctx, query, kind)
}

func (r *chatRepository) ListStalledOnboarding(ctx context.Context, cutoff time.Time) ([]domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats
	          WHERE active
	            AND onboarding_state NOT IN ($1, $2, $3)
	            AND state_changed_on < $4
	          ORDER BY state_changed_on`
	return r.queryChats(ctx, query,
		domain.OnboardingNotStarted, domain.OnboardingReady, domain.OnboardingManualIntervention, cutoff)
}

func (r *chatRepository) queryChats(ctx context.Context, query string, args ...any) ([]domain.Chat, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (r *chatRepository) SetActive(ctx context.Context, chatID int64, active bool) error {
	return r.execOne(ctx, `UPDATE chats SET active = $1 WHERE chat_id = $2`, active, chatID)
}

func (r *chatRepository) SetInviteLink(ctx context.Context, chatID int64, link string) error {
	return r.execOne(ctx, `UPDATE chats SET invite_link = $1 WHERE chat_id = $2`, link, chatID)
}

func (r *chatRepository) SetOnboardingState(ctx context.Context, chatID int64, expected, next domain.OnboardingState, hint string) error {
	query := `UPDATE chats
	          SET onboarding_state = $1, remediation_hint = $2, state_changed_on = NOW()
	          WHERE chat_id = $3 AND onboarding_state = $4`
	res, err := r.db.ExecContext(ctx, query, next, hint, chatID, expected)
	if err != nil {
		return fmt.Errorf("set onboarding state for chat %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %d not in state %s: %w", chatID, expected, repository.ErrStateConflict)
	}
	return nil
}

func (r *chatRepository) SetAdminConfirmed(ctx context.Context, chatID int64, confirmed bool) error {
	return r.execOne(ctx, `UPDATE chats SET admin_confirmed = $1 WHERE chat_id = $2`, confirmed, chatID)
}

func (r *chatRepository) IncrementCounters(ctx context.Context, chatID int64, d domain.CounterDeltas) error {
	query := `UPDATE chats
	          SET total_requests = total_requests + $1,
	              pending_requests = pending_requests + $2,
	              accepted_requests = accepted_requests + $3
	          WHERE chat_id = $4`
	return r.execOne(ctx, query, d.Total, d.Pending, d.Accepted, chatID)
}

func (r *chatRepository) SetCounters(ctx context.Context, chatID int64, total, pending, accepted int64) error {
	query := `UPDATE chats
	          SET total_requests = $1, pending_requests = $2, accepted_requests = $3
	          WHERE chat_id = $4`
	return r.execOne(ctx, query, total, pending, accepted, chatID)
}

func (r *chatRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
