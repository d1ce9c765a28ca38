package domain

import "time"

type ChatKind string

const (
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
)

// OnboardingState tracks how far the delegate identity has come in a chat:
// from unknown to the chat all the way to holding approval rights.
type OnboardingState string

const (
	OnboardingNotStarted          OnboardingState = "NOT_STARTED"
	OnboardingJoining             OnboardingState = "JOINING"
	OnboardingJoined              OnboardingState = "JOINED"
	OnboardingVerifyingMembership OnboardingState = "VERIFYING_MEMBERSHIP"
	OnboardingPromoting           OnboardingState = "PROMOTING"
	OnboardingVerifyingPrivilege  OnboardingState = "VERIFYING_PRIVILEGE"
	OnboardingReady               OnboardingState = "READY"
	OnboardingManualIntervention  OnboardingState = "NEEDS_MANUAL_INTERVENTION"
)

var onboardingOrder = map[OnboardingState]int{
	OnboardingNotStarted:          0,
	OnboardingJoining:             1,
	OnboardingJoined:              2,
	OnboardingVerifyingMembership: 3,
	OnboardingPromoting:           4,
	OnboardingVerifyingPrivilege:  5,
	OnboardingReady:               6,
}

// Terminal reports whether no further automatic transition leaves the state.
func (s OnboardingState) Terminal() bool {
	return s == OnboardingReady || s == OnboardingManualIntervention
}

// CanAdvanceTo reports whether a transition from s to next is legal:
// forward along the onboarding order, into NEEDS_MANUAL_INTERVENTION from
// anywhere, or an explicit re-drive reset back to NOT_STARTED.
func (s OnboardingState) CanAdvanceTo(next OnboardingState) bool {
	if next == OnboardingManualIntervention {
		return s != OnboardingManualIntervention
	}
	if s == OnboardingManualIntervention {
		return next == OnboardingNotStarted
	}
	cur, ok := onboardingOrder[s]
	if !ok {
		return false
	}
	nxt, ok := onboardingOrder[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// Chat is a tracked group or channel.
type Chat struct {
	ChatID           int64           `json:"chat_id"`
	Kind             ChatKind        `json:"kind"`
	Title            string          `json:"title"`
	InviteLink       *string         `json:"invite_link,omitempty"`
	AddedBy          int64           `json:"added_by"`
	Active           bool            `json:"active"`
	OnboardingState  OnboardingState `json:"onboarding_state"`
	AdminConfirmed   bool            `json:"admin_confirmed"`
	RemediationHint  string          `json:"remediation_hint,omitempty"`
	TotalRequests    int64           `json:"total_requests"`
	PendingRequests  int64           `json:"pending_requests"`
	AcceptedRequests int64           `json:"accepted_requests"`
	AddedOn          time.Time       `json:"added_on"`
	StateChangedOn   time.Time       `json:"state_changed_on"`
}

// AcceptsRequests reports whether the join-request pipeline may auto-approve
// for this chat. The pipeline only reads onboarding state, never writes it.
func (c *Chat) AcceptsRequests() bool {
	return c.Active && c.OnboardingState == OnboardingReady
}

// CounterDeltas is a signed adjustment to a chat's aggregate counters.
type CounterDeltas struct {
	Total    int64
	Pending  int64
	Accepted int64
}

// ChatStats is the per-chat request breakdown recomputed from Request rows.
type ChatStats struct {
	ChatID   int64 `json:"chat_id"`
	Total    int64 `json:"total_requests"`
	Pending  int64 `json:"pending_requests"`
	Accepted int64 `json:"accepted_requests"`
	Rejected int64 `json:"rejected_requests"`
	Expired  int64 `json:"expired_requests"`
}

// Consistent reports whether the terminal and pending counts add up.
func (s ChatStats) Consistent() bool {
	return s.Total == s.Pending+s.Accepted+s.Rejected+s.Expired
}
