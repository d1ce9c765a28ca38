package gateway

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrRateLimited))
	assert.True(t, IsTransient(ErrUnavailable))
	assert.True(t, IsTransient(ErrNotConnected))
	assert.True(t, IsTransient(fmt.Errorf("%w: flood wait", ErrRateLimited)))

	assert.False(t, IsTransient(ErrInvalidInvite))
	assert.False(t, IsTransient(ErrInsufficientPrivilege))
	assert.False(t, IsTransient(ErrUnrecoverable))
	assert.False(t, IsTransient(nil))
}

func TestRights_Missing(t *testing.T) {
	required := DelegateRights()

	full := Rights{
		CanManageChat:     true,
		CanInviteUsers:    true,
		CanDeleteMessages: true,
		CanPinMessages:    true,
	}
	assert.Empty(t, full.Missing(required))
	assert.True(t, full.Covers(required))

	// The platform dropped two rights on promote.
	partial := Rights{CanManageChat: true, CanInviteUsers: true}
	missing := partial.Missing(required)
	assert.ElementsMatch(t, []string{"delete messages", "pin messages"}, missing)
	assert.False(t, partial.Covers(required))
}

func TestDelegateRights_WithholdsPromote(t *testing.T) {
	assert.False(t, DelegateRights().CanPromoteMembers)
}
