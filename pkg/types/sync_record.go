package types

import (
	"fmt"
	"sort"
	"time"
)

// SyncStatus records how a calendar day was resolved for an athlete.
// Absence of a status means the day has not been attempted.
type SyncStatus string

const (
	SyncStatusPresent SyncStatus = "present"
	SyncStatusEmpty   SyncStatus = "empty"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	return s == SyncStatusPresent || s == SyncStatusEmpty
}

// SyncKey identifies a sync record.
type SyncKey struct {
	CompetitionID string `json:"competitionId"`
	Period        string `json:"period"`
	AthleteID     string `json:"athleteId"`
}

// DocID is the document id of the record in the store.
func (k SyncKey) DocID() string {
	return fmt.Sprintf("%s_%s_%s", k.CompetitionID, k.Period, k.AthleteID)
}

// SyncRecord is the per-athlete, per-period accumulation of activities.
type SyncRecord struct {
	SyncKey
	Athlete          Summary               `json:"athlete"`
	ActivitiesByDate map[string][]Activity `json:"activitiesByDate"`
	SyncStatusByDate map[string]SyncStatus `json:"syncStatusByDate"`
	UpdatedAt        time.Time             `json:"-"`
}

// NewSyncRecord returns an empty record for key.
func NewSyncRecord(key SyncKey) *SyncRecord {
	return &SyncRecord{
		SyncKey:          key,
		ActivitiesByDate: map[string][]Activity{},
		SyncStatusByDate: map[string]SyncStatus{},
	}
}

// Resolved reports whether day has a recorded status.
func (r *SyncRecord) Resolved(day string) bool {
	if r == nil {
		return false
	}
	_, ok := r.SyncStatusByDate[day]
	return ok
}

// Unresolved returns the days in order that have no status recorded.
func (r *SyncRecord) Unresolved(days []string) []string {
	var out []string
	for _, d := range days {
		if !r.Resolved(d) {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks the day-key/status invariant: every status is known,
// present days carry activities, and no activities exist without a
// present status.
func (r *SyncRecord) Validate() error {
	for day, st := range r.SyncStatusByDate {
		if !st.Valid() {
			return fmt.Errorf("day %s: unknown status %q", day, st)
		}
		n := len(r.ActivitiesByDate[day])
		if st == SyncStatusPresent && n == 0 {
			return fmt.Errorf("day %s: present without activities", day)
		}
		if st == SyncStatusEmpty && n > 0 {
			return fmt.Errorf("day %s: empty with %d activities", day, n)
		}
	}
	for day := range r.ActivitiesByDate {
		if r.SyncStatusByDate[day] != SyncStatusPresent {
			return fmt.Errorf("day %s: activities without present status", day)
		}
	}
	return nil
}

// Apply merges a patch into the record day by day. Days not named by the
// patch are left untouched.
func (r *SyncRecord) Apply(p *SyncPatch) {
	if r.ActivitiesByDate == nil {
		r.ActivitiesByDate = map[string][]Activity{}
	}
	if r.SyncStatusByDate == nil {
		r.SyncStatusByDate = map[string]SyncStatus{}
	}
	if p.Athlete.ID != "" {
		r.Athlete = p.Athlete
	}
	for day, st := range p.Status {
		r.SyncStatusByDate[day] = st
		if st == SyncStatusPresent {
			r.ActivitiesByDate[day] = append([]Activity(nil), p.Activities[day]...)
		} else {
			delete(r.ActivitiesByDate, day)
		}
	}
}

// ClearDays removes both activities and status for the given days and
// reports whether anything was removed.
func (r *SyncRecord) ClearDays(days []string) bool {
	changed := false
	for _, d := range days {
		if _, ok := r.SyncStatusByDate[d]; ok {
			delete(r.SyncStatusByDate, d)
			changed = true
		}
		if _, ok := r.ActivitiesByDate[d]; ok {
			delete(r.ActivitiesByDate, d)
			changed = true
		}
	}
	return changed
}

// HasAnyDay reports whether the record holds data or status for any of days.
func (r *SyncRecord) HasAnyDay(days []string) bool {
	for _, d := range days {
		if _, ok := r.SyncStatusByDate[d]; ok {
			return true
		}
		if _, ok := r.ActivitiesByDate[d]; ok {
			return true
		}
	}
	return false
}

// SyncPatch is a partial, per-day update for one record.
type SyncPatch struct {
	Key        SyncKey
	Athlete    Summary
	Activities map[string][]Activity
	Status     map[string]SyncStatus
}

// NewSyncPatch returns an empty patch for key.
func NewSyncPatch(key SyncKey, athlete Summary) *SyncPatch {
	return &SyncPatch{
		Key:        key,
		Athlete:    athlete,
		Activities: map[string][]Activity{},
		Status:     map[string]SyncStatus{},
	}
}

// SetDay resolves day as present when acts is non-empty, empty otherwise.
func (p *SyncPatch) SetDay(day string, acts []Activity) {
	if len(acts) == 0 {
		p.Status[day] = SyncStatusEmpty
		delete(p.Activities, day)
		return
	}
	p.Status[day] = SyncStatusPresent
	p.Activities[day] = acts
}

// Days returns the patched days in order.
func (p *SyncPatch) Days() []string {
	days := make([]string, 0, len(p.Status))
	for d := range p.Status {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// ClearRequest describes an administrative reset of sync days.
type ClearRequest struct {
	CompetitionID string   `json:"competitionId"`
	Period        string   `json:"period,omitempty"`
	Dates         []string `json:"dates"`
	AthleteIDs    []string `json:"athleteIds,omitempty"`
	DryRun        bool     `json:"dryRun,omitempty"`
}

// ClearResult reports how many records matched and were modified.
type ClearResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
}
