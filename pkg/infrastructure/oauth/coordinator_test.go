package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/testing/mocks"
	"github.com/stridetally/server/pkg/types"
)

type fakeRefresher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, refreshToken string) (types.Credentials, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (types.Credentials, error) {
	f.calls.Add(1)
	return f.fn(ctx, refreshToken)
}

func seeded(t *testing.T, ids ...string) (*mocks.MemoryDatabase, map[string]*athlete.Handle) {
	t.Helper()
	db := mocks.NewMemoryDatabase()
	handles := map[string]*athlete.Handle{}
	for _, id := range ids {
		a := &types.Athlete{ID: id, Credentials: types.Credentials{AccessToken: "old-" + id, RefreshToken: "r-" + id}}
		require.NoError(t, db.UpsertAthlete(context.Background(), a))
		handles[id] = athlete.NewHandle(a)
	}
	return db, handles
}

func TestCoordinator_DeduplicatesConcurrentRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, handles := seeded(t, "42")
	h := handles["42"]

	release := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		<-release
		return types.Credentials{AccessToken: "new", RefreshToken: "r2"}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	const n = 25
	var wg sync.WaitGroup
	results := make([]types.Credentials, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background(), h, "old-42")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, 1, db.CredentialUpdates)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", results[i].AccessToken)
	}
	assert.Equal(t, "new", h.AccessToken())

	stored, err := db.GetAthlete(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "r2", stored.Credentials.RefreshToken)
}

func TestCoordinator_FailureReleasesLock(t *testing.T) {
	db, handles := seeded(t, "7")
	h := handles["7"]

	fail := true
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		if fail {
			return types.Credentials{}, errors.New("invalid_grant")
		}
		return types.Credentials{AccessToken: "fresh", RefreshToken: rt}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	_, err := c.Refresh(context.Background(), h, "old-7")
	require.Error(t, err)
	assert.Equal(t, "old-7", h.AccessToken(), "handle unchanged on failure")

	fail = false
	creds, err := c.Refresh(context.Background(), h, "old-7")
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.AccessToken)
	assert.Equal(t, int32(2), ref.calls.Load())
}

func TestCoordinator_SkipsWhenAlreadyRefreshed(t *testing.T) {
	db, handles := seeded(t, "9")
	h := handles["9"]
	h.SetCredentials(types.Credentials{AccessToken: "newer", RefreshToken: "r"})

	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		t.Fatal("provider must not be called")
		return types.Credentials{}, nil
	}}

	creds, err := NewCoordinator(ref, db, nil).Refresh(context.Background(), h, "old-9")
	require.NoError(t, err)
	assert.Equal(t, "newer", creds.AccessToken)
}

func TestCoordinator_DistinctAthletesInParallel(t *testing.T) {
	db, handles := seeded(t, "a", "b")

	// a's refresh cannot finish until b's has started, which would deadlock
	// if the coordinator serialized unrelated athletes.
	bStarted := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		switch rt {
		case "r-a":
			select {
			case <-bStarted:
			case <-time.After(2 * time.Second):
				return types.Credentials{}, errors.New("serialized")
			}
		case "r-b":
			close(bStarted)
		}
		return types.Credentials{AccessToken: "new-" + rt, RefreshToken: rt}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.Refresh(context.Background(), handles[id], "old-"+id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoordinator_CallerCancellation(t *testing.T) {
	db, handles := seeded(t, "c")

	release := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		<-release
		return types.Credentials{AccessToken: "late", RefreshToken: rt}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Refresh(ctx, handles["c"], "old-c")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool { return handles["c"].AccessToken() == "late" }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_SeparateHandlesShareRefresh(t *testing.T) {
	db := mocks.NewMemoryDatabase()
	a := &types.Athlete{ID: "42", Credentials: types.Credentials{AccessToken: "old", RefreshToken: "r1"}}
	require.NoError(t, db.UpsertAthlete(context.Background(), a))

	release := make(chan struct{})
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		if rt != "r1" {
			return types.Credentials{}, errors.New("invalid_grant: refresh token already rotated")
		}
		<-release
		return types.Credentials{AccessToken: "fresh", RefreshToken: "r2"}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	const n = 6
	handles := make([]*athlete.Handle, n)
	for i := range handles {
		handles[i] = athlete.NewHandle(a)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Refresh(context.Background(), handles[i], "old")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, h := range handles {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", h.AccessToken(), "handle %d", i)
		assert.Equal(t, "r2", h.Credentials().RefreshToken, "handle %d", i)
	}

	// A pass that loaded the athlete before the refresh still holds the
	// rotated pair and must not spend it on the provider again.
	late := athlete.NewHandle(a)
	creds, err := c.Refresh(context.Background(), late, "old")
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.AccessToken)
	assert.Equal(t, "fresh", late.AccessToken())

	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, 1, db.CredentialUpdates)
}

func TestCoordinator_RefreshesAgainAfterNewExpiry(t *testing.T) {
	db, handles := seeded(t, "5")
	h := handles["5"]

	var n atomic.Int32
	ref := &fakeRefresher{fn: func(ctx context.Context, rt string) (types.Credentials, error) {
		i := n.Add(1)
		return types.Credentials{AccessToken: fmt.Sprintf("tok-%d", i), RefreshToken: fmt.Sprintf("r-%d", i)}, nil
	}}
	c := NewCoordinator(ref, db, nil)

	first, err := c.Refresh(context.Background(), h, "old-5")
	require.NoError(t, err)
	second, err := c.Refresh(context.Background(), h, first.AccessToken)
	require.NoError(t, err)

	assert.Equal(t, "tok-2", second.AccessToken)
	assert.Equal(t, int32(2), ref.calls.Load())
}
