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

	"github.com/google/uuid"
)

// errMembershipNotVisible marks the join-visible-yet check as retryable:
// the platform lists new members with a lag, so a successful join may not
// show up on the first membership query.
var errMembershipNotVisible = errors.New("membership not visible yet")

type onboardingService struct {
	chats      repository.ChatRepository
	gw         gateway.Gateway
	limiter    *pacing.Limiter
	retry      pacing.RetryPolicy
	leases     *lease.Registry
	alerts     AlertService
	delegateID int64
	controlID  int64

	// verifyAttempts bounds the post-join membership polling.
	verifyAttempts uint
}

func NewOnboardingService(
	chats repository.ChatRepository,
	gw gateway.Gateway,
	limiter *pacing.Limiter,
	retry pacing.RetryPolicy,
	leases *lease.Registry,
	alerts AlertService,
	delegateID, controlID int64,
	verifyAttempts uint,
) OnboardingService {
	return &onboardingService{
		chats:          chats,
		gw:             gw,
		limiter:        limiter,
		retry:          retry,
		leases:         leases,
		alerts:         alerts,
		delegateID:     delegateID,
		controlID:      controlID,
		verifyAttempts: verifyAttempts,
	}
}

func (s *onboardingService) Drive(ctx context.Context, chatID int64) (*OnboardingReport, error) {
	release, ok := s.leases.TryAcquire(lease.ChatKey(chatID))
	if !ok {
		return nil, ErrDriveInProgress
	}
	defer release()

	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", chatID, err)
	}

	report := &OnboardingReport{ChatID: chatID, State: chat.OnboardingState}
	if !chat.Active {
		logger.Debug("Skipping onboarding drive for inactive chat", "chat_id", chatID)
		return report, nil
	}
	if chat.OnboardingState == domain.OnboardingReady {
		return report, nil
	}
	if !s.gw.Connected() {
		return report, gateway.ErrNotConnected
	}

	// A manual re-drive starts over from the beginning.
	if chat.OnboardingState == domain.OnboardingManualIntervention {
		if err := s.advance(ctx, chat, domain.OnboardingNotStarted); err != nil {
			return report, err
		}
	}

	log := logger.WithComponent("onboarding")
	for !chat.OnboardingState.Terminal() {
		// Cancellation is cooperative: checked between steps, never
		// mid-call, so a completed remote call is always applied.
		if err := ctx.Err(); err != nil {
			report.State = chat.OnboardingState
			return report, err
		}

		var err error
		switch chat.OnboardingState {
		case domain.OnboardingNotStarted:
			err = s.advance(ctx, chat, domain.OnboardingJoining)

		case domain.OnboardingJoining:
			joinErr := s.join(ctx, chat)
			switch {
			case joinErr == nil:
				err = s.advance(ctx, chat, domain.OnboardingJoined)
			case errors.Is(joinErr, gateway.ErrInvalidInvite):
				// Stay in JOINING; the operator renews the invite and
				// re-drives.
				log.Warn("Invite invalid, renewal needed", "chat_id", chatID)
				if alertErr := s.alerts.InviteRenewalNeeded(ctx, chat); alertErr != nil {
					log.Error("Invite renewal alert failed", "chat_id", chatID, "error", alertErr)
				}
				report.State = chat.OnboardingState
				report.NeedsInviteRenewal = true
				return report, nil
			case gateway.IsTransient(joinErr):
				err = joinErr
			default:
				return s.fail(ctx, chat, report, fmt.Sprintf(
					"delegate %d could not join chat %q (%d): %v; add the delegate manually, then re-drive onboarding",
					s.delegateID, chat.Title, chatID, joinErr))
			}

		case domain.OnboardingJoined:
			err = s.advance(ctx, chat, domain.OnboardingVerifyingMembership)

		case domain.OnboardingVerifyingMembership:
			verifyErr := s.verifyMembership(ctx, chatID)
			switch {
			case verifyErr == nil:
				err = s.advance(ctx, chat, domain.OnboardingPromoting)
			case errors.Is(verifyErr, errMembershipNotVisible):
				return s.fail(ctx, chat, report, fmt.Sprintf(
					"delegate %d joined chat %q (%d) but never appeared in the member list; verify the join manually, then re-drive onboarding",
					s.delegateID, chat.Title, chatID))
			default:
				err = verifyErr
			}

		case domain.OnboardingPromoting:
			promoteErr := s.promote(ctx, chatID)
			switch {
			case promoteErr == nil:
				err = s.advance(ctx, chat, domain.OnboardingVerifyingPrivilege)
			case errors.Is(promoteErr, gateway.ErrInsufficientPrivilege):
				return s.fail(ctx, chat, report, fmt.Sprintf(
					"control identity %d cannot promote in chat %q (%d): it needs the 'promote members' right, or promote delegate %d manually",
					s.controlID, chat.Title, chatID, s.delegateID))
			case gateway.IsTransient(promoteErr):
				err = promoteErr
			default:
				return s.fail(ctx, chat, report, fmt.Sprintf(
					"promoting delegate %d in chat %q (%d) failed: %v",
					s.delegateID, chat.Title, chatID, promoteErr))
			}

		case domain.OnboardingVerifyingPrivilege:
			missing, verifyErr := s.verifyPrivilege(ctx, chatID)
			switch {
			case verifyErr != nil:
				err = verifyErr
			case len(missing) == 0:
				if err = s.advance(ctx, chat, domain.OnboardingReady); err == nil {
					err = s.chats.SetAdminConfirmed(ctx, chatID, true)
				}
			default:
				return s.fail(ctx, chat, report, fmt.Sprintf(
					"delegate %d was promoted in chat %q (%d) but the platform dropped rights: missing %v; grant them manually, then re-drive onboarding",
					s.delegateID, chat.Title, chatID, missing))
			}
		}

		if err != nil {
			report.State = chat.OnboardingState
			return report, err
		}
	}

	report.State = chat.OnboardingState
	log.Info("Onboarding drive finished", "chat_id", chatID, "state", chat.OnboardingState)
	return report, nil
}

// advance persists the next state before its step runs (write-ahead of
// state, not of outcome), so a crash resumes at the right step. A CAS miss
// means a concurrent drive slipped past the lease, which is an invariant
// violation: abort, apply nothing.
func (s *onboardingService) advance(ctx context.Context, chat *domain.Chat, next domain.OnboardingState) error {
	if !chat.OnboardingState.CanAdvanceTo(next) {
		return fmt.Errorf("illegal onboarding transition %s -> %s for chat %d",
			chat.OnboardingState, next, chat.ChatID)
	}
	if err := s.chats.SetOnboardingState(ctx, chat.ChatID, chat.OnboardingState, next, ""); err != nil {
		return err
	}
	logger.Debug("Onboarding state advanced", "chat_id", chat.ChatID, "from", chat.OnboardingState, "to", next)
	chat.OnboardingState = next
	chat.RemediationHint = ""
	return nil
}

// fail parks the chat in NEEDS_MANUAL_INTERVENTION with a remediation hint
// and alerts the operator. Unrecoverable classifications end the drive but
// never the process.
func (s *onboardingService) fail(ctx context.Context, chat *domain.Chat, report *OnboardingReport, hint string) (*OnboardingReport, error) {
	if err := s.chats.SetOnboardingState(ctx, chat.ChatID, chat.OnboardingState, domain.OnboardingManualIntervention, hint); err != nil {
		return report, err
	}
	chat.OnboardingState = domain.OnboardingManualIntervention
	chat.RemediationHint = hint
	logger.Warn("Onboarding needs manual intervention", "chat_id", chat.ChatID, "hint", hint)

	if err := s.alerts.ManualInterventionNeeded(ctx, chat, hint); err != nil {
		logger.Error("Manual intervention alert failed", "chat_id", chat.ChatID, "error", err)
	}

	report.State = domain.OnboardingManualIntervention
	report.RemediationHint = hint
	return report, nil
}

// join tries the ordered join strategies: the stored invite link first
// (the only route into private chats), then a direct join by chat
// reference for public chats whose link went stale.
func (s *onboardingService) join(ctx context.Context, chat *domain.Chat) error {
	type strategy struct {
		name   string
		invite string
	}
	var strategies []strategy
	if chat.InviteLink != nil && *chat.InviteLink != "" {
		strategies = append(strategies, strategy{name: "invite-link", invite: *chat.InviteLink})
	}
	strategies = append(strategies, strategy{name: "direct"})

	var lastErr error
	for _, st := range strategies {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		err := s.gw.JoinChat(ctx, chat.ChatID, st.invite)
		if err == nil || errors.Is(err, gateway.ErrAlreadyMember) {
			logger.Info("Delegate joined chat", "chat_id", chat.ChatID, "strategy", st.name)
			return nil
		}
		logger.Debug("Join strategy failed", "chat_id", chat.ChatID, "strategy", st.name, "error", err)

		// Surface the invite problem over a later strategy's generic
		// failure: it is the error the operator can act on.
		if lastErr == nil || errors.Is(err, gateway.ErrInvalidInvite) {
			lastErr = err
		}
		if gateway.IsTransient(err) {
			return err
		}
	}
	return lastErr
}

// verifyMembership polls until the delegate shows up in the member list,
// bounded by verifyAttempts.
func (s *onboardingService) verifyMembership(ctx context.Context, chatID int64) error {
	policy := s.retry
	policy.MaxAttempts = s.verifyAttempts
	return policy.Do(ctx, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		m, err := s.gw.GetMembership(ctx, chatID, s.delegateID)
		if err != nil {
			return err
		}
		if !m.IsMember {
			return errMembershipNotVisible
		}
		return nil
	}, func(err error) bool {
		return gateway.IsTransient(err) || errors.Is(err, errMembershipNotVisible)
	})
}

func (s *onboardingService) promote(ctx context.Context, chatID int64) error {
	return s.retry.Do(ctx, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return s.gw.Promote(ctx, chatID, s.delegateID, gateway.DelegateRights())
	}, gateway.IsTransient)
}

// verifyPrivilege re-queries the delegate's rights and compares them
// bit-for-bit against the required set. The promote call's own result is
// not trusted; the platform may silently drop unsupported rights. A
// mismatch is re-checked once before giving up.
func (s *onboardingService) verifyPrivilege(ctx context.Context, chatID int64) ([]string, error) {
	required := gateway.DelegateRights()
	var missing []string

	for attempt := 0; attempt < 2; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		m, err := s.gw.GetMembership(ctx, chatID, s.delegateID)
		if err != nil {
			return nil, err
		}
		missing = m.Rights.Missing(required)
		if m.IsAdmin && len(missing) == 0 {
			return nil, nil
		}
		if !m.IsAdmin && len(missing) == 0 {
			missing = []string{"admin status"}
		}
	}
	return missing, nil
}

func (s *onboardingService) RefreshInvite(ctx context.Context, chatID int64) (string, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	label := "autoreq-" + uuid.NewString()[:8]
	link, err := s.gw.CreateInviteLink(ctx, chatID, label)
	if err != nil {
		return "", fmt.Errorf("create invite link for chat %d: %w", chatID, err)
	}

	if err := s.chats.SetInviteLink(ctx, chatID, link); err != nil {
		return "", err
	}
	logger.Info("Invite link refreshed", "chat_id", chatID, "title", chat.Title)
	return link, nil
}
