package qualification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/scoring"
	"github.com/stridetally/server/pkg/testing/mocks"
	"github.com/stridetally/server/pkg/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.QualificationEvent
	err    error
}

func (r *recordingNotifier) Celebrate(ctx context.Context, ev types.QualificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func qualified(q bool) Input {
	return Input{
		AthleteID: "42",
		Category:  "100",
		Standing:  scoring.Standing{TotalDistance: 104.5, ActiveDays: 21, IsQualified: q},
	}
}

func TestTracker_CelebratesOnce(t *testing.T) {
	ctx := context.Background()
	db := mocks.NewMemoryDatabase()
	n := &recordingNotifier{}
	tr := NewTracker(db, n, "v2", nil)

	got, err := tr.Evaluate(ctx, qualified(false))
	require.NoError(t, err)
	assert.False(t, got, "not qualified yet")

	got, err = tr.Evaluate(ctx, qualified(true))
	require.NoError(t, err)
	assert.True(t, got, "first qualified run celebrates")

	got, err = tr.Evaluate(ctx, qualified(true))
	require.NoError(t, err)
	assert.False(t, got, "second qualified run does not")

	require.Len(t, n.events, 1)
	assert.Equal(t, "v2", n.events[0].RuleVersion)
	assert.Equal(t, 21, n.events[0].ActiveDays)

	flagged, err := tr.WasFlagged(ctx, "100", "42")
	require.NoError(t, err)
	assert.True(t, flagged)
}

func TestTracker_VersionBumpReevaluates(t *testing.T) {
	ctx := context.Background()
	db := mocks.NewMemoryDatabase()

	got, _ := NewTracker(db, nil, "v1", nil).Evaluate(ctx, qualified(true))
	assert.True(t, got)

	got, _ = NewTracker(db, nil, "v2", nil).Evaluate(ctx, qualified(true))
	assert.True(t, got, "new rule version has its own flag")
}

func TestTracker_ConcurrentEvaluationsSingleWinner(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(mocks.NewMemoryDatabase(), nil, "v1", nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := tr.Evaluate(ctx, qualified(true)); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTracker_NotifierFailureStillFlags(t *testing.T) {
	ctx := context.Background()
	db := mocks.NewMemoryDatabase()
	tr := NewTracker(db, &recordingNotifier{err: errors.New("fcm down")}, "v1", nil)

	got, err := tr.Evaluate(ctx, qualified(true))
	require.NoError(t, err)
	assert.True(t, got)

	got, _ = tr.Evaluate(ctx, qualified(true))
	assert.False(t, got)
}

func TestEventNotifier(t *testing.T) {
	pub := &mocks.MockPublisher{}
	var topic string
	push := &mocks.MockNotificationService{
		SendTopicNotificationFunc: func(ctx context.Context, tp, title, body string, data map[string]string) error {
			topic = tp
			assert.Contains(t, body, "Asha Rao")
			assert.Equal(t, "42", data["athleteId"])
			return nil
		},
	}

	n := NewEventNotifier(pub, push, "qualified-", nil)
	err := n.Celebrate(context.Background(), types.QualificationEvent{
		RuleVersion: "v1", Category: "150", AthleteID: "42", AthleteName: "Asha Rao", ActiveDays: 20,
	})
	require.NoError(t, err)

	assert.Equal(t, "qualified-150", topic)
	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventTypeQualified, events[0].Type())
	assert.Equal(t, "42", events[0].Subject())

	var body types.QualificationEvent
	require.NoError(t, json.Unmarshal(events[0].Data(), &body))
	assert.Equal(t, "150", body.Category)
}

func TestEventNotifier_JoinsErrors(t *testing.T) {
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(ctx context.Context, topic string, e event.Event) (string, error) {
			return "", errors.New("pubsub unavailable")
		},
	}
	n := NewEventNotifier(pub, nil, "", nil)
	err := n.Celebrate(context.Background(), types.QualificationEvent{AthleteID: "1", Category: "100"})
	assert.ErrorContains(t, err, "pubsub unavailable")
}
