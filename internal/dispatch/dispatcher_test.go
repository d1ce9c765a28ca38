package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/service"

	"github.com/stretchr/testify/assert"
)

type recordingChats struct {
	service.ChatService
	mu     sync.Mutex
	events []domain.ChatMembershipChanged
}

func (r *recordingChats) HandleMembershipChange(ctx context.Context, ev domain.ChatMembershipChanged) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &domain.Chat{ChatID: ev.ChatID, Kind: ev.Kind, Active: ev.BecameMember}, nil
}

type recordingOnboarding struct {
	service.OnboardingService
	mu     sync.Mutex
	driven []int64
}

func (r *recordingOnboarding) Drive(ctx context.Context, chatID int64) (*service.OnboardingReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driven = append(r.driven, chatID)
	return &service.OnboardingReport{ChatID: chatID, State: domain.OnboardingReady}, nil
}

type recordingRequests struct {
	service.RequestService
	mu      sync.Mutex
	handled []domain.JoinRequestReceived
}

func (r *recordingRequests) HandleJoinRequest(ctx context.Context, ev domain.JoinRequestReceived) (*service.ApprovalOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, ev)
	return &service.ApprovalOutcome{ChatID: ev.ChatID, UserID: ev.UserID, Status: domain.RequestStatusAccepted}, nil
}

func TestDispatcher_RoutesUpdates(t *testing.T) {
	chats := &recordingChats{}
	onboarding := &recordingOnboarding{}
	requests := &recordingRequests{}
	d := NewDispatcher(chats, onboarding, requests, 2)

	updates := make(chan domain.Update, 8)
	updates <- domain.Update{Membership: &domain.ChatMembershipChanged{
		ChatID: -100123, Kind: domain.ChatKindChannel, BecameMember: true,
	}}
	updates <- domain.Update{JoinRequest: &domain.JoinRequestReceived{
		ChatID: -100123, UserID: 42, RequestedAt: time.Now(),
	}}
	updates <- domain.Update{} // malformed, must be dropped
	close(updates)

	err := d.Run(context.Background(), updates)
	assert.NoError(t, err)

	assert.Len(t, chats.events, 1)
	assert.Equal(t, []int64{-100123}, onboarding.driven)
	assert.Len(t, requests.handled, 1)
	assert.Equal(t, int64(42), requests.handled[0].UserID)
}

func TestDispatcher_RemovalDoesNotDriveOnboarding(t *testing.T) {
	chats := &recordingChats{}
	onboarding := &recordingOnboarding{}
	requests := &recordingRequests{}
	d := NewDispatcher(chats, onboarding, requests, 1)

	updates := make(chan domain.Update, 1)
	updates <- domain.Update{Membership: &domain.ChatMembershipChanged{
		ChatID: -100123, BecameMember: false,
	}}
	close(updates)

	err := d.Run(context.Background(), updates)
	assert.NoError(t, err)
	assert.Empty(t, onboarding.driven)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	d := NewDispatcher(&recordingChats{}, &recordingOnboarding{}, &recordingRequests{}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan domain.Update)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancellation")
	}
}
