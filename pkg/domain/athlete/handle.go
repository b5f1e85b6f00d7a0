// Package athlete holds the in-memory athlete handle shared by concurrent
// fetches, and the reconciliation of pre-registered placeholders with
// linked provider accounts.
package athlete

import (
	"sync"

	"github.com/stridetally/server/pkg/types"
)

// Handle is the live view of one athlete during a sync pass. Every fetch
// for the athlete shares it, so a refresh done by one is seen by all.
type Handle struct {
	mu      sync.RWMutex
	athlete types.Athlete
}

// NewHandle copies a into a new handle.
func NewHandle(a *types.Athlete) *Handle {
	return &Handle{athlete: *a}
}

func (h *Handle) ID() string {
	return h.athlete.ID
}

// Snapshot returns a copy of the athlete as currently known.
func (h *Handle) Snapshot() types.Athlete {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.athlete
}

func (h *Handle) Credentials() types.Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.athlete.Credentials
}

// AccessToken returns the current bearer token.
func (h *Handle) AccessToken() string {
	return h.Credentials().AccessToken
}

// SetCredentials replaces the credential pair.
func (h *Handle) SetCredentials(c types.Credentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.athlete.Credentials = c
}
