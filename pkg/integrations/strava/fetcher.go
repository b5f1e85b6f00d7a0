// Package strava fetches and normalizes athlete activities from the
// provider's REST API.
package strava

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/domain/calendar"
	httputil "github.com/stridetally/server/pkg/infrastructure/http"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	"github.com/stridetally/server/pkg/types"
)

// maxAttempts is the first fetch plus one retry after a refresh.
const maxAttempts = 2

// DefaultKinds are the locomotive activity kinds the competition tracks.
var DefaultKinds = []string{"Run", "Walk"}

// Options configures filtering and paging.
type Options struct {
	PageSize      int
	MaxPages      int
	MinDistanceKm float64
	Kinds         []string
}

// DefaultOptions returns the competition defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:      DefaultPageSize,
		MaxPages:      50,
		MinDistanceKm: 2,
		Kinds:         DefaultKinds,
	}
}

// CredentialRefresher renews an athlete's credential after the provider
// rejected the access token stale.
type CredentialRefresher interface {
	Refresh(ctx context.Context, h *athlete.Handle, stale string) (types.Credentials, error)
}

// Fetcher produces the complete list of qualifying activities of one
// athlete over one window. It has no side effects beyond network I/O and
// the credential refresh it may trigger.
type Fetcher struct {
	client    *Client
	refresher CredentialRefresher
	cal       *calendar.Calendar
	opts      Options
	kinds     map[string]bool
	logger    *slog.Logger
}

func NewFetcher(client *Client, refresher CredentialRefresher, cal *calendar.Calendar, opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = def.Kinds
	}
	kinds := make(map[string]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}
	return &Fetcher{
		client:    client,
		refresher: refresher,
		cal:       cal,
		opts:      opts,
		kinds:     kinds,
		logger:    logger.With("component", "fetcher"),
	}
}

// Fetch pages through [after, before). On an expired credential it
// refreshes once through the refresher and repeats the whole paged fetch;
// any failure after that is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, h *athlete.Handle, after, before time.Time) ([]types.Activity, error) {
	logger := f.logger.With("athlete_id", h.ID())

	var lastErr error
	token := h.AccessToken()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		acts, err := f.fetchAll(ctx, token, after, before)
		if err == nil {
			metrics.ObserveFetch(outcome(nil))
			logger.Debug("Fetched activities", "count", len(acts), "attempt", attempt)
			return acts, nil
		}
		lastErr = err

		if !errors.Is(err, ErrCredentialExpired) || attempt == maxAttempts {
			break
		}

		logger.Info("Access token rejected, refreshing", "attempt", attempt)
		creds, rerr := f.refresher.Refresh(ctx, h, token)
		if rerr != nil {
			lastErr = &FetchError{AthleteID: h.ID(), Kind: ErrCredentialExpired, Err: fmt.Errorf("refresh: %w", rerr)}
			break
		}
		token = creds.AccessToken
	}

	var fe *FetchError
	if errors.As(lastErr, &fe) && fe.AthleteID == "" {
		fe.AthleteID = h.ID()
	}
	metrics.ObserveFetch(outcome(lastErr))
	logger.Warn("Fetch failed", "kind", string(FailureKind(lastErr)), "error", lastErr)
	return nil, lastErr
}

func (f *Fetcher) fetchAll(ctx context.Context, token string, after, before time.Time) ([]types.Activity, error) {
	var out []types.Activity
	for page := 1; page <= f.opts.MaxPages; page++ {
		batch, err := f.client.ListActivities(ctx, token, after, before, page, f.opts.PageSize)
		if err != nil {
			return nil, f.wrap(err)
		}
		for _, a := range batch {
			if act, ok := f.normalize(a); ok {
				out = append(out, act)
			}
		}
		if len(batch) < f.opts.PageSize {
			sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
			return out, nil
		}
	}
	return nil, &FetchError{Kind: ErrTransient, Err: fmt.Errorf("more than %d pages in window", f.opts.MaxPages)}
}

func (f *Fetcher) wrap(err error) error {
	var httpErr *httputil.HTTPError
	if errors.As(err, &httpErr) {
		return &FetchError{Kind: classify(httpErr), Err: err}
	}
	return &FetchError{Kind: ErrTransient, Err: err}
}

// normalize converts a provider activity and applies the kind and
// distance filters.
func (f *Fetcher) normalize(a SummaryActivity) (types.Activity, bool) {
	if !f.kinds[a.Kind()] {
		return types.Activity{}, false
	}
	if a.Distance < f.opts.MinDistanceKm*1000 {
		return types.Activity{}, false
	}
	return types.Activity{
		ID:         a.ID,
		Name:       a.Name,
		Distance:   math.Round(a.Distance/10) / 100,
		MovingTime: a.MovingTime,
		StartDate:  a.StartDate.In(f.cal.Location()),
		Kind:       a.Kind(),
	}, true
}
