package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/repository"
)

type requestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) repository.RequestRepository {
	return &requestRepository{db: db}
}

const requestColumns = `id, chat_id, user_id, username, display_name, status,
	requested_at, accepted_at, attempts, last_error`

func scanRequest(row interface{ Scan(...any) error }) (*domain.Request, error) {
	req := &domain.Request{}
	err := row.Scan(&req.ID, &req.ChatID, &req.UserID, &req.Username, &req.DisplayName,
		&req.Status, &req.RequestedAt, &req.AcceptedAt, &req.Attempts, &req.LastError)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// counterDeltasFor maps a status transition onto chat counter adjustments.
// Insertions are handled separately by InsertPending.
func counterDeltasFor(from, to domain.RequestStatus) domain.CounterDeltas {
	var d domain.CounterDeltas
	if from == domain.RequestStatusPending && to != domain.RequestStatusPending {
		d.Pending = -1
	}
	if to == domain.RequestStatusAccepted {
		d.Accepted = 1
	}
	return d
}

func (r *requestRepository) InsertPending(ctx context.Context, req *domain.Request) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert pending: %w", err)
	}
	defer tx.Rollback()

	// The partial unique index on (chat_id, user_id) WHERE status =
	// 'pending' makes redelivered events a no-op: at most one pending row
	// per pair, historical terminal rows untouched.
	insert := `INSERT INTO requests (chat_id, user_id, username, display_name, status, requested_at, attempts, last_error)
	           VALUES ($1, $2, $3, $4, $5, $6, 0, '')
	           ON CONFLICT (chat_id, user_id) WHERE status = 'pending' DO NOTHING
	           RETURNING id`
	err = tx.QueryRowContext(ctx, insert,
		req.ChatID, req.UserID, req.Username, req.DisplayName,
		domain.RequestStatusPending, req.RequestedAt,
	).Scan(&req.ID)

	if errors.Is(err, sql.ErrNoRows) {
		// Duplicate delivery: load the existing pending row, no counter bump.
		existing, err := r.getPendingTx(ctx, tx, req.ChatID, req.UserID)
		if err != nil {
			return false, err
		}
		*req = *existing
		return false, tx.Commit()
	}
	if err != nil {
		return false, fmt.Errorf("insert pending request: %w", err)
	}
	req.Status = domain.RequestStatusPending

	bump := `UPDATE chats
	         SET total_requests = total_requests + 1, pending_requests = pending_requests + 1
	         WHERE chat_id = $1`
	if _, err := tx.ExecContext(ctx, bump, req.ChatID); err != nil {
		return false, fmt.Errorf("bump counters for chat %d: %w", req.ChatID, err)
	}

	return true, tx.Commit()
}

func (r *requestRepository) getPendingTx(ctx context.Context, tx *sql.Tx, chatID, userID int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
	          WHERE chat_id = $1 AND user_id = $2 AND status = $3`
	req, err := scanRequest(tx.QueryRowContext(ctx, query, chatID, userID, domain.RequestStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return req, err
}

func (r *requestRepository) GetPending(ctx context.Context, chatID, userID int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
	          WHERE chat_id = $1 AND user_id = $2 AND status = $3`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, chatID, userID, domain.RequestStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return req, err
}

func (r *requestRepository) ListPendingByChat(ctx context.Context, chatID int64) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
	          WHERE chat_id = $1 AND status = $2
	          ORDER BY requested_at`
	return r.queryRequests(ctx, query, chatID, domain.RequestStatusPending)
}

func (r *requestRepository) ListRetryable(ctx context.Context, minAttempts, limit int32) ([]domain.Request, error) {
	query := `SELECT r.id, r.chat_id, r.user_id, r.username, r.display_name, r.status,
	                 r.requested_at, r.accepted_at, r.attempts, r.last_error
	          FROM requests r
	          JOIN chats c ON c.chat_id = r.chat_id
	          WHERE r.status = $1 AND r.attempts >= $2
	            AND c.active AND c.onboarding_state = $3
	          ORDER BY r.requested_at
	          LIMIT $4`
	return r.queryRequests(ctx, query,
		domain.RequestStatusPending, minAttempts, domain.OnboardingReady, limit)
}

func (r *requestRepository) queryRequests(ctx context.Context, query string, args ...any) ([]domain.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (r *requestRepository) TransitionStatus(ctx context.Context, id int64, from, to domain.RequestStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status transition: %w", err)
	}
	defer tx.Rollback()

	update := `UPDATE requests
	           SET status = $1,
	               accepted_at = CASE WHEN $1 = 'accepted' THEN NOW() ELSE accepted_at END,
	               last_error = ''
	           WHERE id = $2 AND status = $3
	           RETURNING chat_id`
	var chatID int64
	err = tx.QueryRowContext(ctx, update, to, id, from).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("request %d not in status %s: %w", id, from, repository.ErrStateConflict)
	}
	if err != nil {
		return fmt.Errorf("transition request %d: %w", id, err)
	}

	// Counters move in the same transaction as the status, never separately.
	d := counterDeltasFor(from, to)
	if d != (domain.CounterDeltas{}) {
		bump := `UPDATE chats
		         SET total_requests = total_requests + $1,
		             pending_requests = pending_requests + $2,
		             accepted_requests = accepted_requests + $3
		         WHERE chat_id = $4`
		if _, err := tx.ExecContext(ctx, bump, d.Total, d.Pending, d.Accepted, chatID); err != nil {
			return fmt.Errorf("apply counter deltas for chat %d: %w", chatID, err)
		}
	}

	return tx.Commit()
}

func (r *requestRepository) RecordAttempt(ctx context.Context, id int64, lastError string) error {
	query := `UPDATE requests SET attempts = attempts + 1, last_error = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, lastError, id)
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

func (r *requestRepository) AggregateStats(ctx context.Context, chatID int64) (*domain.ChatStats, error) {
	query := `SELECT COUNT(*),
	                 COUNT(*) FILTER (WHERE status = 'pending'),
	                 COUNT(*) FILTER (WHERE status = 'accepted'),
	                 COUNT(*) FILTER (WHERE status = 'rejected'),
	                 COUNT(*) FILTER (WHERE status = 'expired')
	          FROM requests WHERE chat_id = $1`
	stats := &domain.ChatStats{ChatID: chatID}
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(
		&stats.Total, &stats.Pending, &stats.Accepted, &stats.Rejected, &stats.Expired)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats for chat %d: %w", chatID, err)
	}
	return stats, nil
}
