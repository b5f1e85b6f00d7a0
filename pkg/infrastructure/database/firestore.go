package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	storage "github.com/stridetally/server/pkg/storage/firestore"
	"github.com/stridetally/server/pkg/types"
)

// DefaultQueryTimeout bounds each store query.
const DefaultQueryTimeout = 10 * time.Second

// FirestoreAdapter provides database operations using Firestore
// It wraps our typed storage client
type FirestoreAdapter struct {
	Client       *firestore.Client
	storage      *storage.Client // internal typed wrapper
	queryTimeout time.Duration
}

var _ shared.Database = (*FirestoreAdapter)(nil)

func NewFirestoreAdapter(client *firestore.Client, queryTimeout time.Duration) *FirestoreAdapter {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &FirestoreAdapter{
		Client:       client,
		storage:      storage.NewClient(client),
		queryTimeout: queryTimeout,
	}
}

// op applies the per-query timeout and records latency.
func (a *FirestoreAdapter) op(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	return ctx, func() {
		cancel()
		metrics.ObserveStoreLatency(name, start)
	}
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// --- Credential store ---

func (a *FirestoreAdapter) GetAthlete(ctx context.Context, id string) (*types.Athlete, error) {
	ctx, done := a.op(ctx, "get_athlete")
	defer done()

	athlete, err := a.storage.Athletes().Doc(id).Get(ctx)
	if notFound(err) {
		return nil, fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get athlete %s: %w", id, err)
	}
	return athlete, nil
}

func (a *FirestoreAdapter) ListAthletes(ctx context.Context, filter types.AthleteFilter) ([]*types.Athlete, error) {
	ctx, done := a.op(ctx, "list_athletes")
	defer done()

	col := a.storage.Athletes()

	var candidates []*types.Athlete
	if len(filter.IDs) > 0 {
		byID, err := col.GetAll(ctx, a.Client, filter.IDs)
		if err != nil {
			return nil, fmt.Errorf("get athletes: %w", err)
		}
		for _, id := range filter.IDs {
			if ath, ok := byID[id]; ok {
				candidates = append(candidates, ath)
			}
		}
	} else {
		q := col.Ref.Query
		if !filter.IncludePlaceholders {
			q = q.Where("placeholder", "==", false)
		}
		all, err := col.Documents(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list athletes: %w", err)
		}
		candidates = all
	}

	// Categories are matched after defaulting, so records written before
	// category existed still land in the default tier.
	cats := map[string]bool{}
	for _, c := range filter.Categories {
		cats[c] = true
	}
	out := make([]*types.Athlete, 0, len(candidates))
	for _, ath := range candidates {
		if ath.Placeholder && !filter.IncludePlaceholders {
			continue
		}
		if len(filter.IDs) == 0 && len(cats) > 0 && !cats[ath.CategoryOrDefault()] {
			continue
		}
		out = append(out, ath)
	}
	return out, nil
}

func (a *FirestoreAdapter) UpsertAthlete(ctx context.Context, athlete *types.Athlete) error {
	ctx, done := a.op(ctx, "upsert_athlete")
	defer done()
	return a.storage.Athletes().Doc(athlete.ID).Set(ctx, athlete)
}

func (a *FirestoreAdapter) DeleteAthlete(ctx context.Context, id string) error {
	ctx, done := a.op(ctx, "delete_athlete")
	defer done()
	return a.storage.Athletes().Doc(id).Delete(ctx)
}

func (a *FirestoreAdapter) UpdateCredentials(ctx context.Context, id string, creds types.Credentials) error {
	ctx, done := a.op(ctx, "update_credentials")
	defer done()

	var updates []firestore.Update
	for k, v := range storage.CredentialsToFirestore(creds) {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	updates = append(updates, firestore.Update{Path: "updated_at", Value: firestore.ServerTimestamp})

	err := a.storage.Athletes().Doc(id).Update(ctx, updates)
	if notFound(err) {
		return fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	return err
}

func (a *FirestoreAdapter) SetRestDay(ctx context.Context, id, day string) error {
	ctx, done := a.op(ctx, "set_rest_day")
	defer done()

	err := a.storage.Athletes().Doc(id).Update(ctx, []firestore.Update{
		{Path: "rest_day", Value: day},
		{Path: "updated_at", Value: firestore.ServerTimestamp},
	})
	if notFound(err) {
		return fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	return err
}

func (a *FirestoreAdapter) SetStatusAll(ctx context.Context, st types.AthleteStatus) (int, int, error) {
	ctx, done := a.op(ctx, "set_status_all")
	defer done()

	col := a.storage.Athletes()
	snaps, err := col.Snapshots(ctx, col.Ref.Query)
	if err != nil {
		return 0, 0, fmt.Errorf("list athletes: %w", err)
	}

	bw := a.Client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, snap := range snaps {
		if storage.FirestoreToAthlete(snap.Data()).Status == st {
			continue
		}
		job, err := bw.Update(snap.Ref, []firestore.Update{{Path: "status", Value: string(st)}})
		if err != nil {
			bw.End()
			return 0, 0, fmt.Errorf("enqueue status update: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	modified, err := settle(jobs)
	return len(snaps), modified, err
}

// --- Sync state store ---

func (a *FirestoreAdapter) GetSyncRecords(ctx context.Context, competitionID, period string, athleteIDs []string) (map[string]*types.SyncRecord, error) {
	ctx, done := a.op(ctx, "get_sync_records")
	defer done()

	ids := make([]string, len(athleteIDs))
	for i, id := range athleteIDs {
		ids[i] = types.SyncKey{CompetitionID: competitionID, Period: period, AthleteID: id}.DocID()
	}
	byDoc, err := a.storage.SyncRecords().GetAll(ctx, a.Client, ids)
	if err != nil {
		return nil, fmt.Errorf("get sync records: %w", err)
	}
	out := make(map[string]*types.SyncRecord, len(byDoc))
	for _, r := range byDoc {
		out[r.AthleteID] = r
	}
	return out, nil
}

func (a *FirestoreAdapter) ListSyncRecords(ctx context.Context, competitionID, period string) ([]*types.SyncRecord, error) {
	ctx, done := a.op(ctx, "list_sync_records")
	defer done()

	col := a.storage.SyncRecords()
	q := col.Ref.Where("competition_id", "==", competitionID).Where("period", "==", period)
	records, err := col.Documents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	return records, nil
}

// BulkUpsert merges every patch into its record with one BulkWriter pass.
func (a *FirestoreAdapter) BulkUpsert(ctx context.Context, patches []*types.SyncPatch) error {
	if len(patches) == 0 {
		return nil
	}
	ctx, done := a.op(ctx, "bulk_upsert")
	defer done()

	col := a.storage.SyncRecords()
	bw := a.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(patches))
	for _, p := range patches {
		job, err := bw.Set(col.Ref.Doc(p.Key.DocID()), storage.SyncPatchToFirestore(p), firestore.MergeAll)
		if err != nil {
			bw.End()
			return fmt.Errorf("enqueue %s: %w", p.Key.DocID(), err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	if _, err := settle(jobs); err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	return nil
}

func (a *FirestoreAdapter) ClearDays(ctx context.Context, req types.ClearRequest) (types.ClearResult, error) {
	ctx, done := a.op(ctx, "clear_days")
	defer done()

	col := a.storage.SyncRecords()
	q := col.Ref.Where("competition_id", "==", req.CompetitionID)
	if req.Period != "" {
		q = q.Where("period", "==", req.Period)
	}
	snaps, err := col.Snapshots(ctx, q)
	if err != nil {
		return types.ClearResult{}, fmt.Errorf("query sync records: %w", err)
	}

	ids := map[string]bool{}
	for _, id := range req.AthleteIDs {
		ids[id] = true
	}

	var res types.ClearResult
	var matched []*firestore.DocumentRef
	for _, snap := range snaps {
		r := storage.FirestoreToSyncRecord(snap.Data())
		if len(ids) > 0 && !ids[r.AthleteID] {
			continue
		}
		if !r.HasAnyDay(req.Dates) {
			continue
		}
		matched = append(matched, snap.Ref)
	}
	res.Matched = len(matched)
	if req.DryRun || len(matched) == 0 {
		return res, nil
	}

	updates := storage.ClearDaysUpdates(req.Dates)
	bw := a.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(matched))
	for _, ref := range matched {
		job, err := bw.Update(ref, updates)
		if err != nil {
			bw.End()
			return res, fmt.Errorf("enqueue clear %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	res.Modified, err = settle(jobs)
	return res, err
}

// settle waits for every job and counts successes. The first failure is
// returned after all jobs have settled.
func settle(jobs []*firestore.BulkWriterJob) (int, error) {
	ok := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok++
	}
	return ok, firstErr
}

// --- Qualification flags ---

func (a *FirestoreAdapter) GetQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error) {
	ctx, done := a.op(ctx, "get_flag")
	defer done()

	_, err := a.storage.QualificationFlags().Doc(key.DocID()).Get(ctx)
	if notFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get qualification flag: %w", err)
	}
	return true, nil
}

// CreateQualificationFlag relies on Create failing with AlreadyExists, so
// concurrent evaluations agree on a single creator.
func (a *FirestoreAdapter) CreateQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error) {
	ctx, done := a.op(ctx, "create_flag")
	defer done()

	err := a.storage.QualificationFlags().Doc(key.DocID()).Create(ctx, &key)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create qualification flag: %w", err)
	}
	return true, nil
}

// --- Run log ---

func (a *FirestoreAdapter) SaveSyncRun(ctx context.Context, run *types.SyncRun) error {
	ctx, done := a.op(ctx, "save_sync_run")
	defer done()
	return a.storage.SyncRuns().Doc(run.RunID).Set(ctx, run)
}
