package dispatch

import (
	"context"
	"errors"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/service"

	"golang.org/x/sync/errgroup"
)

// Dispatcher fans inbound platform updates out to a fixed worker pool.
// Ordering across chats is not guaranteed; per-entity leases inside the
// services keep concurrent work on the same chat or request safe.
type Dispatcher struct {
	chats      service.ChatService
	onboarding service.OnboardingService
	requests   service.RequestService
	workers    int
}

func NewDispatcher(
	chats service.ChatService,
	onboarding service.OnboardingService,
	requests service.RequestService,
	workers int,
) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		chats:      chats,
		onboarding: onboarding,
		requests:   requests,
		workers:    workers,
	}
}

// Run consumes updates until the channel closes or ctx is cancelled.
// Handler failures are logged, never fatal: one bad event must not stop
// the stream.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan domain.Update) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case u, ok := <-updates:
					if !ok {
						return nil
					}
					d.handle(ctx, u)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, u domain.Update) {
	switch {
	case u.Membership != nil:
		d.handleMembership(ctx, *u.Membership)
	case u.JoinRequest != nil:
		d.handleJoinRequest(ctx, *u.JoinRequest)
	default:
		logger.Debug("Empty update dropped")
	}
}

func (d *Dispatcher) handleMembership(ctx context.Context, ev domain.ChatMembershipChanged) {
	if _, err := d.chats.HandleMembershipChange(ctx, ev); err != nil {
		logger.Error("Membership change handling failed", "chat_id", ev.ChatID, "error", err)
		return
	}
	if !ev.BecameMember {
		return
	}

	// A freshly registered chat starts onboarding immediately; the drive
	// picks up from whatever state a re-added chat was left in.
	if _, err := d.onboarding.Drive(ctx, ev.ChatID); err != nil {
		if errors.Is(err, service.ErrDriveInProgress) {
			logger.Debug("Onboarding drive already running", "chat_id", ev.ChatID)
			return
		}
		logger.Warn("Onboarding drive after registration failed", "chat_id", ev.ChatID, "error", err)
	}
}

func (d *Dispatcher) handleJoinRequest(ctx context.Context, ev domain.JoinRequestReceived) {
	outcome, err := d.requests.HandleJoinRequest(ctx, ev)
	if err != nil {
		logger.Error("Join request handling failed",
			"chat_id", ev.ChatID, "user_id", ev.UserID, "error", err)
		return
	}
	if outcome.Deferred {
		logger.Debug("Join request deferred",
			"chat_id", ev.ChatID, "user_id", ev.UserID, "reason", outcome.Reason)
	}
}
