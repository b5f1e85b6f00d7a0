package scheduledsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridetally/server/pkg/bootstrap"
	"github.com/stridetally/server/pkg/framework"
	"github.com/stridetally/server/pkg/syncengine"
	"github.com/stridetally/server/pkg/testing/mocks"
	"github.com/stridetally/server/pkg/types"
)

func newTestService(t *testing.T, now time.Time) (*bootstrap.Service, *mocks.MemoryDatabase) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		_, _ = w.Write([]byte(`[{"id": 7, "name": "Tempo", "distance": 8000, "moving_time": 2600,
			"start_date": "2025-08-02T00:45:00Z", "type": "Run", "sport_type": "Run"}]`))
	}))
	t.Cleanup(srv.Close)

	cfg := bootstrap.LoadConfig()
	cfg.StravaAPIBaseURL = srv.URL

	db := mocks.NewMemoryDatabase()
	require.NoError(t, db.UpsertAthlete(context.Background(), &types.Athlete{
		ID: "42", FirstName: "Ravi", Category: "150", Status: types.AthleteStatusConfirmed,
		Credentials: types.Credentials{AccessToken: "a", RefreshToken: "r"},
	}))

	clock := quartz.NewMock(t)
	clock.Set(now)
	svc, err := bootstrap.NewTestService(cfg, db, &mocks.MockBlobStore{}, &mocks.MockPublisher{}, &mocks.MockNotificationService{}, nil, clock, nil)
	require.NoError(t, err)
	return svc, db
}

func scheduledEvent(t *testing.T, payload any) event.Event {
	t.Helper()
	e := event.New()
	e.SetID("evt-1")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/daily-sync")
	require.NoError(t, e.SetData(event.ApplicationJSON, payload))
	return e
}

func fwCtx(svc *bootstrap.Service) *framework.FrameworkContext {
	return &framework.FrameworkContext{Service: svc, Logger: svc.Logger, ExecutionID: "exec-1"}
}

// 2025-08-04 05:00 in Asia/Kolkata.
var aug4 = time.Date(2025, 8, 3, 23, 30, 0, 0, time.UTC)

func TestSyncHandler_SyncsThroughYesterday(t *testing.T) {
	svc, db := newTestService(t, aug4)

	out, err := syncHandler(context.Background(), scheduledEvent(t, Payload{CompetitionID: "aug"}), fwCtx(svc))
	require.NoError(t, err)

	summary := out.(map[string]any)
	assert.Equal(t, "2025-08", summary["period"])
	assert.Equal(t, "2025-08-01", summary["start"])
	assert.Equal(t, "2025-08-03", summary["end"])
	assert.Equal(t, 1, summary["written"])

	r := db.Record(types.SyncKey{CompetitionID: "aug", Period: "2025-08", AthleteID: "42"})
	require.NotNil(t, r)
	assert.Equal(t, map[string]types.SyncStatus{
		"2025-08-01": types.SyncStatusEmpty,
		"2025-08-02": types.SyncStatusPresent,
		"2025-08-03": types.SyncStatusEmpty,
	}, r.SyncStatusByDate)

	runs := db.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduled", runs[0].Trigger)
	assert.Equal(t, syncengine.AllCategories, runs[0].Categories[0].Category)
}

func TestSyncHandler_FirstOfMonthFinishesPreviousPeriod(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC))

	out, err := syncHandler(context.Background(), scheduledEvent(t, Payload{CompetitionID: "aug"}), fwCtx(svc))
	require.NoError(t, err)
	summary := out.(map[string]any)
	assert.Equal(t, "2025-08", summary["period"])
	assert.Equal(t, "2025-08-31", summary["end"])
}

func TestSyncHandler_PeriodNotStarted(t *testing.T) {
	svc, db := newTestService(t, aug4)

	out, err := syncHandler(context.Background(), scheduledEvent(t, Payload{CompetitionID: "sep", Period: "2025-09"}), fwCtx(svc))
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["skipped"])
	assert.Empty(t, db.Runs())
}

func TestSyncHandler_MalformedPayload(t *testing.T) {
	svc, _ := newTestService(t, aug4)

	_, err := syncHandler(context.Background(), scheduledEvent(t, Payload{}), fwCtx(svc))
	assert.ErrorIs(t, err, syncengine.ErrMalformedInput)

	_, err = syncHandler(context.Background(), scheduledEvent(t, Payload{CompetitionID: "aug", Period: "August"}), fwCtx(svc))
	assert.ErrorIs(t, err, syncengine.ErrMalformedInput)
}

func TestScheduledSync_PubSubEnvelope(t *testing.T) {
	svc, db := newTestService(t, aug4)

	data, err := json.Marshal(Payload{CompetitionID: "aug", Categories: []string{"150"}})
	require.NoError(t, err)
	var msg types.PubSubMessage
	msg.Message.Data = data

	err = framework.WrapCloudEvent("scheduled-sync", svc, syncHandler)(context.Background(), scheduledEvent(t, msg))
	require.NoError(t, err)

	runs := db.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "150", runs[0].Categories[0].Category)
	assert.Equal(t, 1, runs[0].Categories[0].Written)
}
