package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	"github.com/stridetally/server/pkg/types"
)

// CredentialStore persists refreshed credential pairs.
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, id string, creds types.Credentials) error
}

// DefaultRefreshTimeout bounds one provider refresh plus the store write.
const DefaultRefreshTimeout = 30 * time.Second

// Coordinator ensures at most one in-flight refresh per athlete. Concurrent
// callers for the same athlete share the outcome of the outstanding call;
// different athletes never wait on each other. The in-flight entry is
// dropped as soon as the call settles, whether it succeeded or not.
//
// Callers may hold separate handles for one athlete. Every caller's handle
// receives the refreshed pair, and a caller still presenting a token that
// an earlier refresh replaced gets the current pair without a new refresh.
type Coordinator struct {
	refresher Refresher
	store     CredentialStore
	logger    *slog.Logger
	timeout   time.Duration

	flights singleflight.Group

	mu        sync.Mutex
	rotations map[string]*rotation
}

// rotation is the refresh history of one athlete in this process.
type rotation struct {
	retired map[string]bool
	latest  types.Credentials
}

func NewCoordinator(refresher Refresher, store CredentialStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		refresher: refresher,
		store:     store,
		logger:    logger,
		timeout:   DefaultRefreshTimeout,
		rotations: map[string]*rotation{},
	}
}

// Refresh obtains a fresh credential pair for h. stale is the access token
// the caller saw rejected; if h already holds a different one, another
// caller has refreshed in the meantime and that pair is returned without
// contacting the provider.
func (c *Coordinator) Refresh(ctx context.Context, h *athlete.Handle, stale string) (types.Credentials, error) {
	if cur := h.Credentials(); stale != "" && cur.AccessToken != stale {
		return cur, nil
	}
	if creds, ok := c.superseded(h.ID(), stale); ok {
		h.SetCredentials(creds)
		return creds, nil
	}

	ch := c.flights.DoChan(h.ID(), func() (interface{}, error) {
		// Waiters may go away; the shared call must still finish and persist.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(rctx, h, stale)
	})

	select {
	case <-ctx.Done():
		return types.Credentials{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.Credentials{}, res.Err
		}
		creds := res.Val.(types.Credentials)
		h.SetCredentials(creds)
		return creds, nil
	}
}

// superseded returns the current pair when stale was already replaced by
// a refresh in this process.
func (c *Coordinator) superseded(id, stale string) (types.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rotations[id]
	if !ok || stale == "" || !r.retired[stale] {
		return types.Credentials{}, false
	}
	return r.latest, true
}

func (c *Coordinator) rotate(id, from string, to types.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rotations[id]
	if !ok {
		r = &rotation{retired: map[string]bool{}}
		c.rotations[id] = r
	}
	if from != "" {
		r.retired[from] = true
	}
	r.latest = to
}

func (c *Coordinator) refresh(ctx context.Context, h *athlete.Handle, stale string) (types.Credentials, error) {
	cur := h.Credentials()
	if stale != "" && cur.AccessToken != stale {
		return cur, nil
	}
	// A flight for another handle may have settled since the caller checked.
	if creds, ok := c.superseded(h.ID(), cur.AccessToken); ok {
		return creds, nil
	}

	logger := c.logger.With("athlete_id", h.ID())
	logger.Info("Refreshing provider credentials")

	creds, err := c.refresher.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		metrics.ObserveRefresh(false)
		logger.Warn("Credential refresh failed", "error", err)
		return types.Credentials{}, err
	}

	if err := c.store.UpdateCredentials(ctx, h.ID(), creds); err != nil {
		metrics.ObserveRefresh(false)
		return types.Credentials{}, fmt.Errorf("failed to persist new tokens: %w", err)
	}
	c.rotate(h.ID(), cur.AccessToken, creds)
	h.SetCredentials(creds)
	metrics.ObserveRefresh(true)

	return creds, nil
}
