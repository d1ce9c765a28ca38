package service

import (
	"context"
	"fmt"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/pacing"
	"autoreq-backend/internal/repository"

	"github.com/google/uuid"
)

type chatService struct {
	chats    repository.ChatRepository
	requests repository.RequestRepository
	gw       gateway.Gateway
	limiter  *pacing.Limiter
}

func NewChatService(
	chats repository.ChatRepository,
	requests repository.RequestRepository,
	gw gateway.Gateway,
	limiter *pacing.Limiter,
) ChatService {
	return &chatService{
		chats:    chats,
		requests: requests,
		gw:       gw,
		limiter:  limiter,
	}
}

func (s *chatService) Register(ctx context.Context, chatID int64, kind domain.ChatKind, title string, addedBy int64) (*domain.Chat, error) {
	chat := &domain.Chat{
		ChatID:          chatID,
		Kind:            kind,
		Title:           title,
		AddedBy:         addedBy,
		Active:          true,
		OnboardingState: domain.OnboardingNotStarted,
	}

	// Best effort: a missing invite link only means the delegate falls
	// back to a direct join during onboarding.
	if link, err := s.createInvite(ctx, chatID); err != nil {
		logger.Warn("Could not create invite link at registration", "chat_id", chatID, "error", err)
	} else {
		chat.InviteLink = &link
	}

	if err := s.chats.Upsert(ctx, chat); err != nil {
		return nil, fmt.Errorf("register chat %d: %w", chatID, err)
	}
	logger.Info("Chat registered", "chat_id", chatID, "kind", kind, "title", title, "added_by", addedBy)
	return chat, nil
}

func (s *chatService) createInvite(ctx context.Context, chatID int64) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	label := "autoreq-" + uuid.NewString()[:8]
	return s.gw.CreateInviteLink(ctx, chatID, label)
}

func (s *chatService) Deactivate(ctx context.Context, chatID int64) error {
	// Chats are never hard-deleted; the request history is the audit trail.
	if err := s.chats.SetActive(ctx, chatID, false); err != nil {
		return fmt.Errorf("deactivate chat %d: %w", chatID, err)
	}
	logger.Info("Chat deactivated", "chat_id", chatID)
	return nil
}

func (s *chatService) Get(ctx context.Context, chatID int64) (*domain.Chat, error) {
	return s.chats.GetByID(ctx, chatID)
}

func (s *chatService) List(ctx context.Context, kind domain.ChatKind) ([]domain.Chat, error) {
	if kind == "" {
		return s.chats.List(ctx)
	}
	return s.chats.ListByKind(ctx, kind)
}

func (s *chatService) Stats(ctx context.Context, chatID int64) (*domain.ChatStats, error) {
	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	return s.requests.AggregateStats(ctx, chatID)
}

func (s *chatService) HandleMembershipChange(ctx context.Context, ev domain.ChatMembershipChanged) (*domain.Chat, error) {
	if !ev.BecameMember {
		if err := s.Deactivate(ctx, ev.ChatID); err != nil {
			return nil, err
		}
		return s.chats.GetByID(ctx, ev.ChatID)
	}
	return s.Register(ctx, ev.ChatID, ev.Kind, ev.Title, ev.ActorID)
}
