package shared

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/stridetally/server/pkg/types"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("not found")

// --- Persistence Interfaces ---

// AthleteStore is the credential store: athlete profiles and provider credentials.
type AthleteStore interface {
	GetAthlete(ctx context.Context, id string) (*types.Athlete, error)
	ListAthletes(ctx context.Context, filter types.AthleteFilter) ([]*types.Athlete, error)
	UpsertAthlete(ctx context.Context, athlete *types.Athlete) error
	DeleteAthlete(ctx context.Context, id string) error
	UpdateCredentials(ctx context.Context, id string, creds types.Credentials) error
	SetRestDay(ctx context.Context, id, day string) error
	SetStatusAll(ctx context.Context, status types.AthleteStatus) (matched, modified int, err error)
}

// SyncStore is the sync state store. BulkUpsert merges each patch per day
// key and never disturbs days the patch does not name.
type SyncStore interface {
	GetSyncRecords(ctx context.Context, competitionID, period string, athleteIDs []string) (map[string]*types.SyncRecord, error)
	ListSyncRecords(ctx context.Context, competitionID, period string) ([]*types.SyncRecord, error)
	BulkUpsert(ctx context.Context, patches []*types.SyncPatch) error
	ClearDays(ctx context.Context, req types.ClearRequest) (types.ClearResult, error)
}

// FlagStore persists qualification flags. CreateQualificationFlag sets the
// flag only if absent and reports whether this call created it.
type FlagStore interface {
	GetQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error)
	CreateQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error)
}

// RunLog persists sync run summaries.
type RunLog interface {
	SaveSyncRun(ctx context.Context, run *types.SyncRun) error
}

// Database aggregates every store the services use.
type Database interface {
	AthleteStore
	SyncStore
	FlagStore
	RunLog
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendTopicNotification(ctx context.Context, topic, title, body string, data map[string]string) error
}
