// Package takeover tracks which conversations a human operator has
// claimed. While a conversation is in manual mode, automated replies are
// suppressed; entries expire lazily after a TTL so a forgotten takeover
// does not mute a conversation forever.
package takeover

import (
	"sync"
	"time"
)

// Mode is the state a toggle left a conversation in.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// Registry is a concurrency-safe conversation -> takeover map with lazy
// TTL expiry.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entered map[string]time.Time
}

// NewRegistry creates a registry whose entries expire ttl after entry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		entered: make(map[string]time.Time),
	}
}

// IsActive reports whether the conversation is under manual takeover,
// expiring and removing a stale entry first.
func (r *Registry) IsActive(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	enteredAt, ok := r.entered[conversationID]
	if !ok {
		return false
	}
	if r.now().Sub(enteredAt) > r.ttl {
		delete(r.entered, conversationID)
		return false
	}
	return true
}

// Enter puts the conversation into manual takeover, restarting the TTL if
// it was already active.
func (r *Registry) Enter(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entered[conversationID] = r.now()
}

// Exit returns the conversation to automated handling.
func (r *Registry) Exit(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entered, conversationID)
}

// Toggle flips the takeover state and returns the mode the conversation is
// now in.
func (r *Registry) Toggle(conversationID string) Mode {
	if r.IsActive(conversationID) {
		r.Exit(conversationID)
		return ModeAuto
	}
	r.Enter(conversationID)
	return ModeManual
}

// Len returns the number of tracked conversations, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entered)
}
