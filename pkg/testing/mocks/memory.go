package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/types"
)

// MemoryDatabase is an in-memory shared.Database with the same merge
// semantics as the Firestore adapter. Hooks let tests inject failures.
type MemoryDatabase struct {
	mu       sync.Mutex
	athletes map[string]types.Athlete
	records  map[string]*types.SyncRecord
	flags    map[string]bool
	runs     []*types.SyncRun

	BulkUpsertFunc func(ctx context.Context, patches []*types.SyncPatch) error

	BulkUpsertCalls   int
	PatchesWritten    int
	CredentialUpdates int
}

var _ shared.Database = (*MemoryDatabase)(nil)

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		athletes: map[string]types.Athlete{},
		records:  map[string]*types.SyncRecord{},
		flags:    map[string]bool{},
	}
}

// --- Credential store ---

func (m *MemoryDatabase) GetAthlete(ctx context.Context, id string) (*types.Athlete, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.athletes[id]
	if !ok {
		return nil, fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryDatabase) ListAthletes(ctx context.Context, filter types.AthleteFilter) ([]*types.Athlete, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := toSet(filter.IDs)
	cats := toSet(filter.Categories)

	var out []*types.Athlete
	for _, a := range m.athletes {
		if a.Placeholder && !filter.IncludePlaceholders {
			continue
		}
		if len(ids) > 0 {
			if !ids[a.ID] {
				continue
			}
		} else if len(cats) > 0 && !cats[a.CategoryOrDefault()] {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDatabase) UpsertAthlete(ctx context.Context, a *types.Athlete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.athletes[a.ID] = *a
	return nil
}

func (m *MemoryDatabase) DeleteAthlete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.athletes, id)
	return nil
}

func (m *MemoryDatabase) UpdateCredentials(ctx context.Context, id string, creds types.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.athletes[id]
	if !ok {
		return fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	a.Credentials = creds
	m.athletes[id] = a
	m.CredentialUpdates++
	return nil
}

func (m *MemoryDatabase) SetRestDay(ctx context.Context, id, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.athletes[id]
	if !ok {
		return fmt.Errorf("athlete %s: %w", id, shared.ErrNotFound)
	}
	a.RestDay = day
	m.athletes[id] = a
	return nil
}

func (m *MemoryDatabase) SetStatusAll(ctx context.Context, status types.AthleteStatus) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched, modified := 0, 0
	for id, a := range m.athletes {
		matched++
		if a.Status != status {
			a.Status = status
			m.athletes[id] = a
			modified++
		}
	}
	return matched, modified, nil
}

// --- Sync state store ---

func (m *MemoryDatabase) GetSyncRecords(ctx context.Context, competitionID, period string, athleteIDs []string) (map[string]*types.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]*types.SyncRecord{}
	for _, id := range athleteIDs {
		key := types.SyncKey{CompetitionID: competitionID, Period: period, AthleteID: id}
		if r, ok := m.records[key.DocID()]; ok {
			out[id] = cloneRecord(r)
		}
	}
	return out, nil
}

func (m *MemoryDatabase) ListSyncRecords(ctx context.Context, competitionID, period string) ([]*types.SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.SyncRecord
	for _, r := range m.records {
		if r.CompetitionID == competitionID && r.Period == period {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AthleteID < out[j].AthleteID })
	return out, nil
}

func (m *MemoryDatabase) BulkUpsert(ctx context.Context, patches []*types.SyncPatch) error {
	if m.BulkUpsertFunc != nil {
		if err := m.BulkUpsertFunc(ctx, patches); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.BulkUpsertCalls++
	for _, p := range patches {
		id := p.Key.DocID()
		r, ok := m.records[id]
		if !ok {
			r = types.NewSyncRecord(p.Key)
			m.records[id] = r
		}
		r.Apply(p)
		m.PatchesWritten++
	}
	return nil
}

func (m *MemoryDatabase) ClearDays(ctx context.Context, req types.ClearRequest) (types.ClearResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := toSet(req.AthleteIDs)
	var res types.ClearResult
	for _, r := range m.records {
		if r.CompetitionID != req.CompetitionID || (req.Period != "" && r.Period != req.Period) {
			continue
		}
		if len(ids) > 0 && !ids[r.AthleteID] {
			continue
		}
		if !r.HasAnyDay(req.Dates) {
			continue
		}
		res.Matched++
		if !req.DryRun && r.ClearDays(req.Dates) {
			res.Modified++
		}
	}
	return res, nil
}

// --- Flags ---

func (m *MemoryDatabase) GetQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key.DocID()], nil
}

func (m *MemoryDatabase) CreateQualificationFlag(ctx context.Context, key types.FlagKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags[key.DocID()] {
		return false, nil
	}
	m.flags[key.DocID()] = true
	return true, nil
}

// --- Run log ---

func (m *MemoryDatabase) SaveSyncRun(ctx context.Context, run *types.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

// Runs returns the saved run summaries in order.
func (m *MemoryDatabase) Runs() []*types.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.SyncRun(nil), m.runs...)
}

// Record returns a copy of one stored sync record, or nil.
func (m *MemoryDatabase) Record(key types.SyncKey) *types.SyncRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key.DocID()]; ok {
		return cloneRecord(r)
	}
	return nil
}

func cloneRecord(r *types.SyncRecord) *types.SyncRecord {
	cp := types.NewSyncRecord(r.SyncKey)
	cp.Athlete = r.Athlete
	cp.UpdatedAt = r.UpdatedAt
	for d, acts := range r.ActivitiesByDate {
		cp.ActivitiesByDate[d] = append([]types.Activity(nil), acts...)
	}
	for d, st := range r.SyncStatusByDate {
		cp.SyncStatusByDate[d] = st
	}
	return cp
}

func toSet(xs []string) map[string]bool {
	if len(xs) == 0 {
		return nil
	}
	s := make(map[string]bool, len(xs))
	for _, x := range xs {
		s[x] = true
	}
	return s
}
