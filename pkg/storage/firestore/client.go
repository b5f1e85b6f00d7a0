package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Raw exposes the underlying client for batch and multi-get operations.
func (c *Client) Raw() *firestore.Client {
	return c.fs
}

// Athletes is the credential store: athletes/{athleteId}
func (c *Client) Athletes() *Collection[types.Athlete] {
	return &Collection[types.Athlete]{
		Ref:           c.fs.Collection(shared.CollectionAthletes),
		ToFirestore:   AthleteToFirestore,
		FromFirestore: FirestoreToAthlete,
	}
}

// SyncRecords holds one document per athlete per competition period:
// event_activities/{competitionId}_{period}_{athleteId}
func (c *Client) SyncRecords() *Collection[types.SyncRecord] {
	return &Collection[types.SyncRecord]{
		Ref:           c.fs.Collection(shared.CollectionEventActivity),
		ToFirestore:   SyncRecordToFirestore,
		FromFirestore: FirestoreToSyncRecord,
	}
}

// QualificationFlags are write-once markers: qualification_flags/{ruleVersion}_{category}_{athleteId}
func (c *Client) QualificationFlags() *Collection[types.FlagKey] {
	return &Collection[types.FlagKey]{
		Ref:           c.fs.Collection(shared.CollectionQualifiedFlags),
		ToFirestore:   FlagToFirestore,
		FromFirestore: FirestoreToFlag,
	}
}

// SyncRuns is the run log: sync_runs/{runId}
func (c *Client) SyncRuns() *Collection[types.SyncRun] {
	return &Collection[types.SyncRun]{
		Ref:           c.fs.Collection(shared.CollectionSyncRuns),
		ToFirestore:   SyncRunToFirestore,
		FromFirestore: FirestoreToSyncRun,
	}
}
