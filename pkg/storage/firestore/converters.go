package firestore

import (
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/stridetally/server/pkg/types"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get bool from map
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// Firestore returns integers as int64 and doubles as float64.
func getFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// --- Athlete Converters ---

func AthleteToFirestore(a *types.Athlete) map[string]interface{} {
	m := map[string]interface{}{
		"athlete_id":  a.ID,
		"firstname":   a.FirstName,
		"lastname":    a.LastName,
		"profile":     a.Profile,
		"gender":      a.Gender,
		"email":       a.Email,
		"category":    a.CategoryOrDefault(),
		"status":      string(a.Status),
		"placeholder": a.Placeholder,
		"updated_at":  a.UpdatedAt,
	}
	if a.RestDay != "" {
		m["rest_day"] = a.RestDay
	}
	if a.Status == "" {
		m["status"] = string(types.AthleteStatusPending)
	}
	if a.UpdatedAt.IsZero() {
		m["updated_at"] = firestore.ServerTimestamp
	}
	for k, v := range CredentialsToFirestore(a.Credentials) {
		m[k] = v
	}
	return m
}

func CredentialsToFirestore(c types.Credentials) map[string]interface{} {
	m := map[string]interface{}{
		"access_token":  c.AccessToken,
		"refresh_token": c.RefreshToken,
	}
	if !c.ExpiresAt.IsZero() {
		m["expires_at"] = c.ExpiresAt
	}
	return m
}

func FirestoreToAthlete(m map[string]interface{}) *types.Athlete {
	a := &types.Athlete{
		ID:          getString(m, "athlete_id"),
		FirstName:   getString(m, "firstname"),
		LastName:    getString(m, "lastname"),
		Profile:     getString(m, "profile"),
		Gender:      getString(m, "gender"),
		Email:       getString(m, "email"),
		Category:    getString(m, "category"),
		Status:      types.AthleteStatus(getString(m, "status")),
		Placeholder: getBool(m, "placeholder"),
		RestDay:     getString(m, "rest_day"),
		Credentials: types.Credentials{
			AccessToken:  getString(m, "access_token"),
			RefreshToken: getString(m, "refresh_token"),
			ExpiresAt:    getTime(m, "expires_at"),
		},
		UpdatedAt: getTime(m, "updated_at"),
	}
	if a.Status == "" {
		a.Status = types.AthleteStatusPending
	}
	return a
}

// --- Activity Converters ---

func ActivityToFirestore(a types.Activity) map[string]interface{} {
	return map[string]interface{}{
		"id":          a.ID,
		"name":        a.Name,
		"distance":    a.Distance,
		"moving_time": a.MovingTime,
		"start_date":  a.StartDate,
		"kind":        a.Kind,
	}
}

func FirestoreToActivity(m map[string]interface{}) types.Activity {
	return types.Activity{
		ID:         getInt64(m, "id"),
		Name:       getString(m, "name"),
		Distance:   getFloat(m, "distance"),
		MovingTime: int(getInt64(m, "moving_time")),
		StartDate:  getTime(m, "start_date"),
		Kind:       getString(m, "kind"),
	}
}

func activitiesToFirestore(acts []types.Activity) []interface{} {
	out := make([]interface{}, len(acts))
	for i, a := range acts {
		out[i] = ActivityToFirestore(a)
	}
	return out
}

func firestoreToActivities(v interface{}) []types.Activity {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]types.Activity, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, FirestoreToActivity(m))
		}
	}
	return out
}

// --- Sync Record Converters ---

func summaryToFirestore(s types.Summary) map[string]interface{} {
	return map[string]interface{}{
		"id":       s.ID,
		"name":     s.Name,
		"gender":   s.Gender,
		"category": s.Category,
		"profile":  s.Profile,
	}
}

func firestoreToSummary(m map[string]interface{}) types.Summary {
	return types.Summary{
		ID:       getString(m, "id"),
		Name:     getString(m, "name"),
		Gender:   getString(m, "gender"),
		Category: getString(m, "category"),
		Profile:  getString(m, "profile"),
	}
}

func SyncRecordToFirestore(r *types.SyncRecord) map[string]interface{} {
	acts := make(map[string]interface{}, len(r.ActivitiesByDate))
	for day, list := range r.ActivitiesByDate {
		acts[day] = activitiesToFirestore(list)
	}
	status := make(map[string]interface{}, len(r.SyncStatusByDate))
	for day, st := range r.SyncStatusByDate {
		status[day] = string(st)
	}
	return map[string]interface{}{
		"competition_id":      r.CompetitionID,
		"period":              r.Period,
		"athlete_id":          r.AthleteID,
		"athlete":             summaryToFirestore(r.Athlete),
		"activities_by_date":  acts,
		"sync_status_by_date": status,
		"updated_at":          firestore.ServerTimestamp,
	}
}

func FirestoreToSyncRecord(m map[string]interface{}) *types.SyncRecord {
	r := types.NewSyncRecord(types.SyncKey{
		CompetitionID: getString(m, "competition_id"),
		Period:        getString(m, "period"),
		AthleteID:     getString(m, "athlete_id"),
	})
	r.Athlete = firestoreToSummary(getMap(m, "athlete"))
	r.UpdatedAt = getTime(m, "updated_at")
	for day, v := range getMap(m, "activities_by_date") {
		if acts := firestoreToActivities(v); len(acts) > 0 {
			r.ActivitiesByDate[day] = acts
		}
	}
	for day, v := range getMap(m, "sync_status_by_date") {
		if s, ok := v.(string); ok {
			r.SyncStatusByDate[day] = types.SyncStatus(s)
		}
	}
	return r
}

// SyncPatchToFirestore renders a patch for Set with MergeAll. Only the
// patched day keys appear in the nested maps, so other days are left
// untouched. Empty days delete any activities stored under the key.
func SyncPatchToFirestore(p *types.SyncPatch) map[string]interface{} {
	acts := map[string]interface{}{}
	status := map[string]interface{}{}
	for _, day := range p.Days() {
		st := p.Status[day]
		status[day] = string(st)
		if st == types.SyncStatusPresent {
			acts[day] = activitiesToFirestore(p.Activities[day])
		} else {
			acts[day] = firestore.Delete
		}
	}

	m := map[string]interface{}{
		"competition_id": p.Key.CompetitionID,
		"period":         p.Key.Period,
		"athlete_id":     p.Key.AthleteID,
		"updated_at":     firestore.ServerTimestamp,
	}
	if p.Athlete.ID != "" {
		m["athlete"] = summaryToFirestore(p.Athlete)
	}
	// An empty nested map would replace the whole field under MergeAll.
	if len(status) > 0 {
		m["sync_status_by_date"] = status
		m["activities_by_date"] = acts
	}
	return m
}

// ClearDaysUpdates removes both maps' entries for days. Day keys contain
// dashes, so FieldPath is used instead of dotted paths.
func ClearDaysUpdates(days []string) []firestore.Update {
	sorted := append([]string(nil), days...)
	sort.Strings(sorted)
	updates := make([]firestore.Update, 0, 2*len(sorted)+1)
	for _, day := range sorted {
		updates = append(updates,
			firestore.Update{FieldPath: firestore.FieldPath{"activities_by_date", day}, Value: firestore.Delete},
			firestore.Update{FieldPath: firestore.FieldPath{"sync_status_by_date", day}, Value: firestore.Delete},
		)
	}
	updates = append(updates, firestore.Update{Path: "updated_at", Value: firestore.ServerTimestamp})
	return updates
}

// --- Qualification Flag Converters ---

func FlagToFirestore(k *types.FlagKey) map[string]interface{} {
	return map[string]interface{}{
		"rule_version": k.RuleVersion,
		"category":     k.Category,
		"athlete_id":   k.AthleteID,
		"qualified":    true,
		"created_at":   firestore.ServerTimestamp,
	}
}

func FirestoreToFlag(m map[string]interface{}) *types.FlagKey {
	return &types.FlagKey{
		RuleVersion: getString(m, "rule_version"),
		Category:    getString(m, "category"),
		AthleteID:   getString(m, "athlete_id"),
	}
}

// --- Sync Run Converters ---

func SyncRunToFirestore(r *types.SyncRun) map[string]interface{} {
	cats := make([]interface{}, len(r.Categories))
	for i, c := range r.Categories {
		failures := make([]interface{}, len(c.Failures))
		for j, f := range c.Failures {
			failures[j] = map[string]interface{}{
				"athlete_id": f.AthleteID,
				"kind":       string(f.Kind),
				"message":    f.Message,
				"retried":    f.Retried,
			}
		}
		cats[i] = map[string]interface{}{
			"category":    c.Category,
			"total":       c.Total,
			"processed":   c.Processed,
			"skipped":     c.Skipped,
			"fetched":     c.Fetched,
			"written":     c.Written,
			"failed":      c.Failed,
			"batches":     c.Batches,
			"batch_size":  c.BatchSize,
			"delay_ms":    c.DelayMs,
			"failures":    failures,
			"write_error": c.WriteError,
		}
	}
	return map[string]interface{}{
		"run_id":         r.RunID,
		"competition_id": r.CompetitionID,
		"period":         r.Period,
		"start_date":     r.StartDate,
		"end_date":       r.EndDate,
		"trigger":        r.Trigger,
		"started_at":     r.StartedAt,
		"finished_at":    r.FinishedAt,
		"categories":     cats,
	}
}

func FirestoreToSyncRun(m map[string]interface{}) *types.SyncRun {
	r := &types.SyncRun{
		RunID:         getString(m, "run_id"),
		CompetitionID: getString(m, "competition_id"),
		Period:        getString(m, "period"),
		StartDate:     getString(m, "start_date"),
		EndDate:       getString(m, "end_date"),
		Trigger:       getString(m, "trigger"),
		StartedAt:     getTime(m, "started_at"),
		FinishedAt:    getTime(m, "finished_at"),
	}
	raw, _ := m["categories"].([]interface{})
	for _, item := range raw {
		cm, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := types.CategorySummary{
			Category:   getString(cm, "category"),
			Total:      int(getInt64(cm, "total")),
			Processed:  int(getInt64(cm, "processed")),
			Skipped:    int(getInt64(cm, "skipped")),
			Fetched:    int(getInt64(cm, "fetched")),
			Written:    int(getInt64(cm, "written")),
			Failed:     int(getInt64(cm, "failed")),
			Batches:    int(getInt64(cm, "batches")),
			BatchSize:  int(getInt64(cm, "batch_size")),
			DelayMs:    getInt64(cm, "delay_ms"),
			WriteError: getString(cm, "write_error"),
		}
		fails, _ := cm["failures"].([]interface{})
		for _, f := range fails {
			fm, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			c.Failures = append(c.Failures, types.AthleteFailure{
				AthleteID: getString(fm, "athlete_id"),
				Kind:      types.FailureKind(getString(fm, "kind")),
				Message:   getString(fm, "message"),
				Retried:   getBool(fm, "retried"),
			})
		}
		r.Categories = append(r.Categories, c)
	}
	return r
}
