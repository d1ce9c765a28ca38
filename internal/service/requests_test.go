package service_test

import (
	"context"
	"testing"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/lease"
	"autoreq-backend/internal/pacing"
	"autoreq-backend/internal/repository"
	"autoreq-backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newRequestFixture(chats *MockChatRepo, requests *MockRequestRepo, gw *MockGateway) (service.RequestService, *lease.Registry) {
	limiter := pacing.NewLimiter(10000, 100)
	retry := pacing.RetryPolicy{BaseDelay: time.Millisecond, MaxAttempts: 3, Jitter: 0}
	leases := lease.NewRegistry()
	svc := service.NewRequestService(chats, requests, gw, limiter, retry, leases)
	return svc, leases
}

func joinEvent(userID int64) domain.JoinRequestReceived {
	return domain.JoinRequestReceived{
		ChatID:      testChatID,
		UserID:      userID,
		Username:    "alice",
		DisplayName: "Alice",
		RequestedAt: time.Now(),
	}
}

func TestRequests_AcceptWhenReady(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	requests.On("InsertPending", mock.Anything, mock.MatchedBy(func(r *domain.Request) bool {
		return r.ChatID == testChatID && r.UserID == 42
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Request).ID = 17
	}).Return(true, nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(nil).Once()
	requests.On("TransitionStatus", mock.Anything, int64(17),
		domain.RequestStatusPending, domain.RequestStatusAccepted).Return(nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusAccepted, outcome.Status)
	assert.False(t, outcome.Deferred)

	requests.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestRequests_DeferredWhileOnboarding(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingJoining), nil).Once()
	requests.On("InsertPending", mock.Anything, mock.Anything).Return(true, nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.True(t, outcome.Deferred)
	assert.Equal(t, domain.RequestStatusPending, outcome.Status)
	assert.Contains(t, outcome.Reason, "JOINING")

	// The request is recorded but no approval goes out.
	gw.AssertNotCalled(t, "ApproveJoinRequest", mock.Anything, mock.Anything, mock.Anything)
	requests.AssertExpectations(t)
}

func TestRequests_RedeliveryIsIdempotent(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	// Second delivery: the repository returns the existing pending row.
	requests.On("InsertPending", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Request).ID = 17
	}).Return(false, nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(nil).Once()
	requests.On("TransitionStatus", mock.Anything, int64(17),
		domain.RequestStatusPending, domain.RequestStatusAccepted).Return(nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusAccepted, outcome.Status)
	requests.AssertExpectations(t)
}

func TestRequests_RateLimitedThenAccepted(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	requests.On("InsertPending", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Request).ID = 17
	}).Return(true, nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(gateway.ErrRateLimited).Twice()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(nil).Once()
	requests.On("TransitionStatus", mock.Anything, int64(17),
		domain.RequestStatusPending, domain.RequestStatusAccepted).Return(nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusAccepted, outcome.Status)
	gw.AssertExpectations(t)
}

func TestRequests_ExpiredOnPlatform(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	requests.On("InsertPending", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Request).ID = 17
	}).Return(true, nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(gateway.ErrNotFound).Once()
	requests.On("TransitionStatus", mock.Anything, int64(17),
		domain.RequestStatusPending, domain.RequestStatusExpired).Return(nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusExpired, outcome.Status)
	requests.AssertExpectations(t)
}

func TestRequests_TransientExhaustionStaysPending(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	requests.On("InsertPending", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Request).ID = 17
	}).Return(true, nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(42)).Return(gateway.ErrUnavailable).Times(3)
	requests.On("RecordAttempt", mock.Anything, int64(17),
		mock.MatchedBy(func(msg string) bool { return msg != "" })).Return(nil).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.Equal(t, domain.RequestStatusPending, outcome.Status)
	assert.NotEmpty(t, outcome.Reason)

	requests.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	requests.AssertExpectations(t)
}

func TestRequests_UntrackedChatDropped(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(nil, repository.ErrNotFound).Once()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.True(t, outcome.Deferred)
	requests.AssertNotCalled(t, "InsertPending", mock.Anything, mock.Anything)
}

func TestRequests_ConcurrentApprovalSkipped(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, leases := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	release, ok := leases.TryAcquire(lease.RequestKey(testChatID, 42))
	assert.True(t, ok)
	defer release()

	outcome, err := svc.HandleJoinRequest(ctx, joinEvent(42))
	assert.NoError(t, err)
	assert.True(t, outcome.Deferred)
	assert.Contains(t, outcome.Reason, "in flight")
	requests.AssertNotCalled(t, "InsertPending", mock.Anything, mock.Anything)
}

func TestRequests_ApproveAllPendingOldestFirst(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	now := time.Now()
	requests.On("ListPendingByChat", ctx, testChatID).Return([]domain.Request{
		{ID: 1, ChatID: testChatID, UserID: 10, Status: domain.RequestStatusPending, RequestedAt: now.Add(-2 * time.Hour)},
		{ID: 2, ChatID: testChatID, UserID: 11, Status: domain.RequestStatusPending, RequestedAt: now.Add(-1 * time.Hour)},
		{ID: 3, ChatID: testChatID, UserID: 12, Status: domain.RequestStatusPending, RequestedAt: now},
	}, nil).Once()

	var order []int64
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, mock.AnythingOfType("int64")).
		Run(func(args mock.Arguments) { order = append(order, args.Get(2).(int64)) }).
		Return(nil).Times(3)
	requests.On("TransitionStatus", mock.Anything, mock.AnythingOfType("int64"),
		domain.RequestStatusPending, domain.RequestStatusAccepted).Return(nil).Times(3)

	summary, err := svc.ApproveAllPending(ctx, testChatID)
	assert.NoError(t, err)
	assert.Equal(t, 3, summary.Approved)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []int64{10, 11, 12}, order)
}

func TestRequests_ApproveAllPendingContinuesPastFailures(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingReady), nil).Once()
	requests.On("ListPendingByChat", ctx, testChatID).Return([]domain.Request{
		{ID: 1, ChatID: testChatID, UserID: 10, Status: domain.RequestStatusPending},
		{ID: 2, ChatID: testChatID, UserID: 11, Status: domain.RequestStatusPending},
	}, nil).Once()

	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(10)).Return(gateway.ErrUnrecoverable).Once()
	requests.On("RecordAttempt", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	gw.On("ApproveJoinRequest", mock.Anything, testChatID, int64(11)).Return(nil).Once()
	requests.On("TransitionStatus", mock.Anything, int64(2),
		domain.RequestStatusPending, domain.RequestStatusAccepted).Return(nil).Once()

	summary, err := svc.ApproveAllPending(ctx, testChatID)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 1, summary.Failed)
}

func TestRequests_ApproveAllPendingSkipsIneligibleChat(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	chats.On("GetByID", ctx, testChatID).Return(testChat(domain.OnboardingJoining), nil).Once()
	requests.On("ListPendingByChat", ctx, testChatID).Return([]domain.Request{
		{ID: 1, ChatID: testChatID, UserID: 10, Status: domain.RequestStatusPending},
		{ID: 2, ChatID: testChatID, UserID: 11, Status: domain.RequestStatusPending},
	}, nil).Once()

	summary, err := svc.ApproveAllPending(ctx, testChatID)
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Approved)
	assert.Equal(t, 2, summary.Skipped)
	gw.AssertNotCalled(t, "ApproveJoinRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequests_RetryDefersWhenChatNotReady(t *testing.T) {
	chats := new(MockChatRepo)
	requests := new(MockRequestRepo)
	gw := new(MockGateway)
	svc, _ := newRequestFixture(chats, requests, gw)
	ctx := context.Background()

	deactivated := testChat(domain.OnboardingReady)
	deactivated.Active = false
	chats.On("GetByID", ctx, testChatID).Return(deactivated, nil).Once()

	req := &domain.Request{ID: 17, ChatID: testChatID, UserID: 42, Status: domain.RequestStatusPending, Attempts: 2}
	outcome, err := svc.Retry(ctx, req)
	assert.NoError(t, err)
	assert.True(t, outcome.Deferred)
	assert.Equal(t, "chat inactive", outcome.Reason)
	gw.AssertNotCalled(t, "ApproveJoinRequest", mock.Anything, mock.Anything, mock.Anything)
}
