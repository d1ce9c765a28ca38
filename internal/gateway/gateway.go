// Package gateway abstracts the chat platform: joining chats, promoting
// the delegate identity, and approving join requests. The platform is
// reached through a bridge process that holds the actual connections for
// the control and delegate identities.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrInvalidInvite         = errors.New("gateway: invite link invalid or expired")
	ErrAlreadyMember         = errors.New("gateway: identity is already a member")
	ErrNotFound              = errors.New("gateway: join request no longer exists")
	ErrRateLimited           = errors.New("gateway: rate limited by platform")
	ErrInsufficientPrivilege = errors.New("gateway: caller lacks required privilege")
	ErrUnavailable           = errors.New("gateway: platform unreachable")
	ErrNotConnected          = errors.New("gateway: delegate connection is down")
	ErrUnrecoverable         = errors.New("gateway: unrecoverable platform error")
)

// IsTransient reports whether an error warrants a backoff-and-retry rather
// than a status transition. Rate limiting is explicitly not a failure of
// the operation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrNotConnected)
}

// Rights is the platform's admin capability set for one identity in one chat.
type Rights struct {
	CanManageChat     bool `json:"can_manage_chat"`
	CanInviteUsers    bool `json:"can_invite_users"`
	CanDeleteMessages bool `json:"can_delete_messages"`
	CanPinMessages    bool `json:"can_pin_messages"`
	CanPromoteMembers bool `json:"can_promote_members"`
}

// DelegateRights is the minimal set the delegate needs to approve join
// requests. Promoting further admins is deliberately withheld.
func DelegateRights() Rights {
	return Rights{
		CanManageChat:     true,
		CanInviteUsers:    true,
		CanDeleteMessages: true,
		CanPinMessages:    true,
		CanPromoteMembers: false,
	}
}

// Covers reports whether r grants every capability that required holds.
func (r Rights) Covers(required Rights) bool {
	return len(r.Missing(required)) == 0
}

// Missing names the capabilities in required that r lacks. The platform
// may silently drop rights on promote, so callers compare bit-for-bit.
func (r Rights) Missing(required Rights) []string {
	var missing []string
	if required.CanManageChat && !r.CanManageChat {
		missing = append(missing, "manage chat")
	}
	if required.CanInviteUsers && !r.CanInviteUsers {
		missing = append(missing, "invite users")
	}
	if required.CanDeleteMessages && !r.CanDeleteMessages {
		missing = append(missing, "delete messages")
	}
	if required.CanPinMessages && !r.CanPinMessages {
		missing = append(missing, "pin messages")
	}
	if required.CanPromoteMembers && !r.CanPromoteMembers {
		missing = append(missing, "promote members")
	}
	return missing
}

// Membership is one identity's standing in one chat.
type Membership struct {
	IsMember bool   `json:"is_member"`
	IsAdmin  bool   `json:"is_admin"`
	Rights   Rights `json:"rights"`
}

// Gateway is the consumed platform capability. Every call may return
// ErrRateLimited, which is distinct from a semantic failure.
type Gateway interface {
	// Connected reports whether the delegate identity's connection is up.
	// Onboarding refuses to start steps while it is down.
	Connected() bool

	// JoinChat joins the delegate to a chat. An empty inviteLink means a
	// direct join by chat reference.
	JoinChat(ctx context.Context, chatID int64, inviteLink string) error

	// GetMembership queries an identity's standing in a chat. Join calls
	// may report success before the member is listed (eventual
	// consistency), so callers re-check with bounded retries.
	GetMembership(ctx context.Context, chatID, identityID int64) (*Membership, error)

	// Promote grants an identity the given rights using the control
	// identity's privileges.
	Promote(ctx context.Context, chatID, identityID int64, rights Rights) error

	// ApproveJoinRequest approves a user's pending join request through
	// the delegate identity.
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error

	// CreateInviteLink makes a fresh invite link via the control identity.
	CreateInviteLink(ctx context.Context, chatID int64, label string) (string, error)
}
