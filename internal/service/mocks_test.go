package service_test

import (
	"context"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"

	"github.com/stretchr/testify/mock"
)

// MockChatRepo
type MockChatRepo struct {
	mock.Mock
}

func (m *MockChatRepo) Upsert(ctx context.Context, chat *domain.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}
func (m *MockChatRepo) GetByID(ctx context.Context, chatID int64) (*domain.Chat, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}
func (m *MockChatRepo) List(ctx context.Context) ([]domain.Chat, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Chat), args.Error(1)
}
func (m *MockChatRepo) ListByKind(ctx context.Context, kind domain.ChatKind) ([]domain.Chat, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).([]domain.Chat), args.Error(1)
}
func (m *MockChatRepo) SetActive(ctx context.Context, chatID int64, active bool) error {
	args := m.Called(ctx, chatID, active)
	return args.Error(0)
}
func (m *MockChatRepo) SetInviteLink(ctx context.Context, chatID int64, link string) error {
	args := m.Called(ctx, chatID, link)
	return args.Error(0)
}
func (m *MockChatRepo) SetOnboardingState(ctx context.Context, chatID int64, expected, next domain.OnboardingState, hint string) error {
	args := m.Called(ctx, chatID, expected, next, hint)
	return args.Error(0)
}
func (m *MockChatRepo) SetAdminConfirmed(ctx context.Context, chatID int64, confirmed bool) error {
	args := m.Called(ctx, chatID, confirmed)
	return args.Error(0)
}
func (m *MockChatRepo) IncrementCounters(ctx context.Context, chatID int64, d domain.CounterDeltas) error {
	args := m.Called(ctx, chatID, d)
	return args.Error(0)
}
func (m *MockChatRepo) SetCounters(ctx context.Context, chatID int64, total, pending, accepted int64) error {
	args := m.Called(ctx, chatID, total, pending, accepted)
	return args.Error(0)
}
func (m *MockChatRepo) ListStalledOnboarding(ctx context.Context, cutoff time.Time) ([]domain.Chat, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]domain.Chat), args.Error(1)
}

// MockRequestRepo
type MockRequestRepo struct {
	mock.Mock
}

func (m *MockRequestRepo) InsertPending(ctx context.Context, req *domain.Request) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}
func (m *MockRequestRepo) GetPending(ctx context.Context, chatID, userID int64) (*domain.Request, error) {
	args := m.Called(ctx, chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Request), args.Error(1)
}
func (m *MockRequestRepo) ListPendingByChat(ctx context.Context, chatID int64) ([]domain.Request, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).([]domain.Request), args.Error(1)
}
func (m *MockRequestRepo) ListRetryable(ctx context.Context, minAttempts, limit int32) ([]domain.Request, error) {
	args := m.Called(ctx, minAttempts, limit)
	return args.Get(0).([]domain.Request), args.Error(1)
}
func (m *MockRequestRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.RequestStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}
func (m *MockRequestRepo) RecordAttempt(ctx context.Context, id int64, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}
func (m *MockRequestRepo) AggregateStats(ctx context.Context, chatID int64) (*domain.ChatStats, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatStats), args.Error(1)
}

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}
func (m *MockGateway) JoinChat(ctx context.Context, chatID int64, inviteLink string) error {
	args := m.Called(ctx, chatID, inviteLink)
	return args.Error(0)
}
func (m *MockGateway) GetMembership(ctx context.Context, chatID, identityID int64) (*gateway.Membership, error) {
	args := m.Called(ctx, chatID, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Membership), args.Error(1)
}
func (m *MockGateway) Promote(ctx context.Context, chatID, identityID int64, rights gateway.Rights) error {
	args := m.Called(ctx, chatID, identityID, rights)
	return args.Error(0)
}
func (m *MockGateway) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}
func (m *MockGateway) CreateInviteLink(ctx context.Context, chatID int64, label string) (string, error) {
	args := m.Called(ctx, chatID, label)
	return args.String(0), args.Error(1)
}

// MockAlertService
type MockAlertService struct {
	mock.Mock
}

func (m *MockAlertService) ManualInterventionNeeded(ctx context.Context, chat *domain.Chat, hint string) error {
	args := m.Called(ctx, chat, hint)
	return args.Error(0)
}
func (m *MockAlertService) InviteRenewalNeeded(ctx context.Context, chat *domain.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}
