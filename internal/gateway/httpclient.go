package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/logger"
)

// Client talks to the platform bridge over HTTP. The bridge owns the real
// control and delegate connections; this client only does JSON RPC against
// it and maps bridge error codes onto the gateway taxonomy.
type Client struct {
	baseURL   string
	http      *http.Client
	connected atomic.Bool
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type bridgeResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

var bridgeErrors = map[string]error{
	"invalid_invite":         ErrInvalidInvite,
	"already_member":         ErrAlreadyMember,
	"not_found":              ErrNotFound,
	"rate_limited":           ErrRateLimited,
	"insufficient_privilege": ErrInsufficientPrivilege,
	"not_connected":          ErrNotConnected,
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.ExternalServiceCall("bridge", method)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.connected.Store(false)
		logger.ExternalServiceResult("bridge", method, err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var br bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, method, err)
	}
	if !br.OK {
		if sentinel, ok := bridgeErrors[br.ErrorCode]; ok {
			return fmt.Errorf("%w: %s", sentinel, br.Description)
		}
		return fmt.Errorf("%w: %s: %s", ErrUnrecoverable, br.ErrorCode, br.Description)
	}
	if out != nil {
		if err := json.Unmarshal(br.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	logger.ExternalServiceResult("bridge", method, nil)
	return nil
}

// Ping refreshes the delegate connection state. The engine calls this at
// startup and the onboarding service checks Connected before each drive.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		DelegateConnected bool `json:"delegate_connected"`
	}
	if err := c.call(ctx, "status", struct{}{}, &status); err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(status.DelegateConnected)
	if !status.DelegateConnected {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) JoinChat(ctx context.Context, chatID int64, inviteLink string) error {
	req := struct {
		ChatID     int64  `json:"chat_id"`
		InviteLink string `json:"invite_link,omitempty"`
	}{chatID, inviteLink}
	return c.call(ctx, "joinChat", req, nil)
}

func (c *Client) GetMembership(ctx context.Context, chatID, identityID int64) (*Membership, error) {
	req := struct {
		ChatID     int64 `json:"chat_id"`
		IdentityID int64 `json:"identity_id"`
	}{chatID, identityID}
	var m Membership
	if err := c.call(ctx, "getMembership", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Promote(ctx context.Context, chatID, identityID int64, rights Rights) error {
	req := struct {
		ChatID     int64  `json:"chat_id"`
		IdentityID int64  `json:"identity_id"`
		Rights     Rights `json:"rights"`
	}{chatID, identityID, rights}
	return c.call(ctx, "promoteChatMember", req, nil)
}

func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	req := struct {
		ChatID int64 `json:"chat_id"`
		UserID int64 `json:"user_id"`
	}{chatID, userID}
	return c.call(ctx, "approveChatJoinRequest", req, nil)
}

func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, label string) (string, error) {
	req := struct {
		ChatID int64  `json:"chat_id"`
		Label  string `json:"label,omitempty"`
	}{chatID, label}
	var result struct {
		InviteLink string `json:"invite_link"`
	}
	if err := c.call(ctx, "createChatInviteLink", req, &result); err != nil {
		return "", err
	}
	return result.InviteLink, nil
}

// StreamUpdates long-polls the bridge for inbound events and forwards them
// to out until ctx is cancelled. Poll failures back off and retry; the
// stream never terminates the process.
func (c *Client) StreamUpdates(ctx context.Context, out chan<- domain.Update) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := struct {
			Offset  int64 `json:"offset"`
			Timeout int   `json:"timeout_seconds"`
		}{offset, 30}
		var result struct {
			Updates []struct {
				ID     int64         `json:"id"`
				Update domain.Update `json:"update"`
			} `json:"updates"`
		}
		if err := c.call(ctx, "getUpdates", req, &result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Update poll failed, backing off", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range result.Updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			select {
			case out <- u.Update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
