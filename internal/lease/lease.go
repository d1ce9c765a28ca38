// Package lease provides in-process exclusive claims on entity ids. A held
// lease means an onboarding drive or approval is already in flight for that
// entity; concurrent triggers skip instead of duplicating side effects.
package lease

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type Registry struct {
	mu   sync.Mutex
	held map[string]string
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]string)}
}

// TryAcquire claims key without blocking. On success it returns a release
// func and true; if the key is already held it returns (nil, false).
// Release is idempotent.
func (r *Registry) TryAcquire(key string) (func(), bool) {
	owner := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[key]; taken {
		return nil, false
	}
	r.held[key] = owner

	release := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.held[key] == owner {
			delete(r.held, key)
		}
	}
	return release, true
}

// Held reports whether key is currently claimed.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[key]
	return taken
}

func ChatKey(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}

func RequestKey(chatID, userID int64) string {
	return fmt.Sprintf("request:%d:%d", chatID, userID)
}
