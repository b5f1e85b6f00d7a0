package strava

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/infrastructure/oauth"
	"github.com/stridetally/server/pkg/testing/mocks"
	"github.com/stridetally/server/pkg/types"
)

// fakeProvider serves the activity listing. Tokens not in valid get the
// configured rejection.
type fakeProvider struct {
	mu       sync.Mutex
	acts     []SummaryActivity
	valid    map[string]bool
	reject   func(w http.ResponseWriter)
	requests int
	tokens   []string
	queries  []string
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++

	token := r.Header.Get("Authorization")
	p.tokens = append(p.tokens, token)
	p.queries = append(p.queries, r.URL.RawQuery)

	if !p.valid[token] {
		p.reject(w)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	per, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	start := (page - 1) * per
	end := start + per
	if start > len(p.acts) {
		start = len(p.acts)
	}
	if end > len(p.acts) {
		end = len(p.acts)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.acts[start:end])
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func expired(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"Authorization Error","errors":[{"resource":"Athlete","field":"access_token","code":"invalid"}]}`))
}

func missingScope(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"Authorization Error","errors":[{"resource":"AccessToken","field":"activity:read_permission","code":"missing"}]}`))
}

type countingRefresher struct {
	calls atomic.Int32
	creds types.Credentials
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, h *athlete.Handle, stale string) (types.Credentials, error) {
	r.calls.Add(1)
	if r.err != nil {
		return types.Credentials{}, r.err
	}
	h.SetCredentials(r.creds)
	return r.creds, nil
}

var (
	cal    = calendar.MustNew("Asia/Kolkata")
	after  = time.Date(2025, 7, 31, 18, 30, 0, 0, time.UTC)
	before = time.Date(2025, 8, 3, 18, 30, 0, 0, time.UTC)
)

func newHandle(token string) *athlete.Handle {
	return athlete.NewHandle(&types.Athlete{ID: "42", Credentials: types.Credentials{AccessToken: token, RefreshToken: "rt"}})
}

func newFetcher(srv *httptest.Server, ref CredentialRefresher, pageSize int) *Fetcher {
	opts := DefaultOptions()
	opts.PageSize = pageSize
	return NewFetcher(NewClient(srv.URL, srv.Client().Transport, 5*time.Second), ref, cal, opts, nil)
}

func TestFetch_PagesFiltersAndNormalizes(t *testing.T) {
	start := time.Date(2025, 8, 1, 20, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		valid: map[string]bool{"Bearer ok": true},
		acts: []SummaryActivity{
			{ID: 1, Name: "Morning Run", Distance: 5123.4, MovingTime: 1800, StartDate: start, Type: "Run"},
			{ID: 2, Name: "Commute", Distance: 15000, StartDate: start, Type: "Ride"},
			{ID: 3, Name: "Jog", Distance: 1999, StartDate: start, Type: "Run"},
			{ID: 4, Name: "Evening Walk", Distance: 2000, StartDate: start.Add(time.Hour), SportType: "Walk"},
			{ID: 5, Name: "Long Run", Distance: 21097.5, StartDate: start.Add(-24 * time.Hour), Type: "Run"},
		},
	}
	srv := httptest.NewServer(p)
	defer srv.Close()

	acts, err := newFetcher(srv, &countingRefresher{}, 2).Fetch(context.Background(), newHandle("ok"), after, before)
	require.NoError(t, err)

	// 5 results at page size 2: pages 1, 2, 3 (short page ends paging).
	assert.Equal(t, 3, p.count())
	assert.Contains(t, p.queries[0], "after="+strconv.FormatInt(after.Unix(), 10))
	assert.Contains(t, p.queries[0], "before="+strconv.FormatInt(before.Unix(), 10))

	require.Len(t, acts, 3)
	assert.Equal(t, int64(5), acts[0].ID, "sorted by start time")
	assert.Equal(t, 21.1, acts[0].Distance)

	assert.Equal(t, int64(1), acts[1].ID)
	assert.Equal(t, 5.12, acts[1].Distance)
	assert.Equal(t, "2025-08-02", cal.DayKey(acts[1].StartDate))
	assert.Equal(t, "Asia/Kolkata", acts[1].StartDate.Location().String())

	assert.Equal(t, "Walk", acts[2].Kind)
	assert.Equal(t, 2.0, acts[2].Distance)
}

func TestFetch_EmptyFirstPage(t *testing.T) {
	p := &fakeProvider{valid: map[string]bool{"Bearer ok": true}}
	srv := httptest.NewServer(p)
	defer srv.Close()

	acts, err := newFetcher(srv, &countingRefresher{}, 100).Fetch(context.Background(), newHandle("ok"), after, before)
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Equal(t, 1, p.count())
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name         string
		reject       func(w http.ResponseWriter)
		valid        map[string]bool
		refresher    *countingRefresher
		wantKind     error
		wantRequests int
		wantRefresh  int32
		wantOK       bool
		retryable    bool
	}{
		{
			name:         "expired then refreshed",
			reject:       expired,
			valid:        map[string]bool{"Bearer new": true},
			refresher:    &countingRefresher{creds: types.Credentials{AccessToken: "new", RefreshToken: "rt2"}},
			wantRequests: 2,
			wantRefresh:  1,
			wantOK:       true,
		},
		{
			name:         "expired twice is terminal",
			reject:       expired,
			refresher:    &countingRefresher{creds: types.Credentials{AccessToken: "also-bad", RefreshToken: "rt2"}},
			wantKind:     ErrCredentialExpired,
			wantRequests: 2,
			wantRefresh:  1,
			retryable:    true,
		},
		{
			name:         "refresh failure",
			reject:       expired,
			refresher:    &countingRefresher{err: errors.New("invalid_grant")},
			wantKind:     ErrCredentialExpired,
			wantRequests: 1,
			wantRefresh:  1,
			retryable:    true,
		},
		{
			name:         "missing scope never refreshes",
			reject:       missingScope,
			refresher:    &countingRefresher{},
			wantKind:     ErrPermissionDenied,
			wantRequests: 1,
		},
		{
			name:         "forbidden",
			reject:       func(w http.ResponseWriter) { w.WriteHeader(http.StatusForbidden) },
			refresher:    &countingRefresher{},
			wantKind:     ErrPermissionDenied,
			wantRequests: 1,
		},
		{
			name: "rate limited",
			reject: func(w http.ResponseWriter) {
				w.Header().Set("Retry-After", "900")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			refresher:    &countingRefresher{},
			wantKind:     ErrRateLimited,
			wantRequests: 1,
		},
		{
			name:         "server error",
			reject:       func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
			refresher:    &countingRefresher{},
			wantKind:     ErrTransient,
			wantRequests: 1,
			retryable:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := tt.valid
			if valid == nil {
				valid = map[string]bool{}
			}
			p := &fakeProvider{valid: valid, reject: tt.reject}
			srv := httptest.NewServer(p)
			defer srv.Close()

			_, err := newFetcher(srv, tt.refresher, 100).Fetch(context.Background(), newHandle("old"), after, before)

			assert.Equal(t, tt.wantRequests, p.count())
			assert.Equal(t, tt.wantRefresh, tt.refresher.calls.Load())
			if tt.wantOK {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantKind), "got %v", err)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "42", fe.AthleteID)
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestFetch_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := newFetcher(srv, &countingRefresher{}, 100).Fetch(context.Background(), newHandle("ok"), after, before)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, types.FailureTransient, FailureKind(err))
}

func TestFetch_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	p := &fakeProvider{valid: map[string]bool{"Bearer fresh": true}, reject: expired}
	srv := httptest.NewServer(p)
	defer srv.Close()

	db := mocks.NewMemoryDatabase()
	a := &types.Athlete{ID: "42", Credentials: types.Credentials{AccessToken: "old", RefreshToken: "rt"}}
	require.NoError(t, db.UpsertAthlete(context.Background(), a))
	h := athlete.NewHandle(a)

	var providerCalls atomic.Int32
	refresher := refreshFunc(func(ctx context.Context, rt string) (types.Credentials, error) {
		providerCalls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return types.Credentials{AccessToken: "fresh", RefreshToken: "rt2"}, nil
	})
	f := newFetcher(srv, oauth.NewCoordinator(refresher, db, nil), 100)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), h, after, before)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), providerCalls.Load())
}

func TestFetch_ConcurrentPassesWithOwnHandles(t *testing.T) {
	p := &fakeProvider{valid: map[string]bool{"Bearer fresh": true}, reject: expired}
	srv := httptest.NewServer(p)
	defer srv.Close()

	db := mocks.NewMemoryDatabase()
	a := &types.Athlete{ID: "42", Credentials: types.Credentials{AccessToken: "old", RefreshToken: "rt"}}
	require.NoError(t, db.UpsertAthlete(context.Background(), a))

	var providerCalls atomic.Int32
	refresher := refreshFunc(func(ctx context.Context, rt string) (types.Credentials, error) {
		providerCalls.Add(1)
		if rt != "rt" {
			return types.Credentials{}, errors.New("invalid_grant")
		}
		time.Sleep(10 * time.Millisecond)
		return types.Credentials{AccessToken: "fresh", RefreshToken: "rt2"}, nil
	})
	f := newFetcher(srv, oauth.NewCoordinator(refresher, db, nil), 100)

	// Each pass loads the athlete on its own, as separate sync requests do.
	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), athlete.NewHandle(a), after, before)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	_, err := f.Fetch(context.Background(), athlete.NewHandle(a), after, before)
	require.NoError(t, err, "a pass started with the rotated pair recovers without a second refresh")
	assert.Equal(t, int32(1), providerCalls.Load())
}

type refreshFunc func(ctx context.Context, refreshToken string) (types.Credentials, error)

func (f refreshFunc) Refresh(ctx context.Context, refreshToken string) (types.Credentials, error) {
	return f(ctx, refreshToken)
}
