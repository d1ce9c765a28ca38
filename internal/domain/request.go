package domain

import "time"

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusAccepted || s == RequestStatusRejected || s == RequestStatusExpired
}

// Request is one user's join request to one chat. At most one pending row
// may exist per (chat, user) pair; a re-request after a terminal status
// gets a new row so history is never rewritten.
type Request struct {
	ID          int64         `json:"id"`
	ChatID      int64         `json:"chat_id"`
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username,omitempty"`
	DisplayName string        `json:"display_name"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty"`
	Attempts    int32         `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
}
