package domain

import "time"

// ChatMembershipChanged fires when the control identity is added to or
// removed from a chat.
type ChatMembershipChanged struct {
	ChatID       int64    `json:"chat_id"`
	Kind         ChatKind `json:"kind"`
	Title        string   `json:"title"`
	ActorID      int64    `json:"actor_id"`
	BecameMember bool     `json:"became_member"`
}

// JoinRequestReceived fires when a user asks to join a tracked chat.
type JoinRequestReceived struct {
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name"`
	RequestedAt time.Time `json:"requested_at"`
}

// Update is one inbound platform event. Exactly one field is set.
type Update struct {
	Membership  *ChatMembershipChanged `json:"membership,omitempty"`
	JoinRequest *JoinRequestReceived   `json:"join_request,omitempty"`
}
