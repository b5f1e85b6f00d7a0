package types

import "time"

// FailureKind classifies a terminal per-athlete failure within a run.
type FailureKind string

const (
	FailureCredentialExpired FailureKind = "credential_expired"
	FailurePermissionDenied  FailureKind = "permission_denied"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureTransient         FailureKind = "transient"
	FailureStoreWrite        FailureKind = "store_write"
)

// AthleteFailure is recorded when an athlete could not be synced in a run.
// Its days stay unresolved so the next run retries them.
type AthleteFailure struct {
	AthleteID string      `json:"athleteId"`
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retried   bool        `json:"retried"`
}

// CategorySummary reports the work done for one category (or id list).
type CategorySummary struct {
	Category   string           `json:"category"`
	Total      int              `json:"total"`
	Processed  int              `json:"processed"`
	Skipped    int              `json:"skipped"`
	Fetched    int              `json:"fetched"`
	Written    int              `json:"written"`
	Failed     int              `json:"failed"`
	Batches    int              `json:"batches"`
	BatchSize  int              `json:"batchSize"`
	DelayMs    int64            `json:"delayMs"`
	Failures   []AthleteFailure `json:"failures,omitempty"`
	WriteError string           `json:"writeError,omitempty"`
}

// SyncRun is the persisted summary of one sync pass.
type SyncRun struct {
	RunID         string            `json:"runId"`
	CompetitionID string            `json:"competitionId"`
	Period        string            `json:"period"`
	StartDate     string            `json:"startDate"`
	EndDate       string            `json:"endDate"`
	Trigger       string            `json:"trigger"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
	Categories    []CategorySummary `json:"categories"`
}
