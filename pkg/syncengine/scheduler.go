// Package syncengine runs incremental, idempotent activity syncs over a
// competition date range under the provider's request budget.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	"github.com/stridetally/server/pkg/integrations/strava"
	"github.com/stridetally/server/pkg/types"
)

// ErrMalformedInput rejects a request before any external call is made.
var ErrMalformedInput = errors.New("malformed input")

// AllCategories labels a pass over every linked athlete.
const AllCategories = "all"

// IDListCategory labels a pass over an explicit athlete allow-list.
const IDListCategory = "ids"

// ActivityFetcher fetches an athlete's qualifying activities in
// [after, before).
type ActivityFetcher interface {
	Fetch(ctx context.Context, h *athlete.Handle, after, before time.Time) ([]types.Activity, error)
}

// Store is the persistence the scheduler needs.
type Store interface {
	shared.AthleteStore
	shared.SyncStore
	shared.RunLog
}

// RangeRequest asks for every pending day in [StartDate, EndDate].
type RangeRequest struct {
	CompetitionID string   `json:"competitionId"`
	Period        string   `json:"period"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	Categories    []string `json:"categories,omitempty"`
	AthleteIDs    []string `json:"athleteIds,omitempty"`
	Trigger       string   `json:"-"`
}

type Scheduler struct {
	store   Store
	fetcher ActivityFetcher
	cal     *calendar.Calendar
	cfg     Config
	clock   quartz.Clock
	logger  *slog.Logger
	newID   func() string
}

func NewScheduler(store Store, fetcher ActivityFetcher, cal *calendar.Calendar, cfg Config, clock quartz.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		cal:     cal,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger.With("component", "syncengine"),
		newID:   uuid.NewString,
	}
}

// Calendar returns the competition calendar.
func (s *Scheduler) Calendar() *calendar.Calendar {
	return s.cal
}

// Today is the current civil day in the competition timezone.
func (s *Scheduler) Today() string {
	return s.cal.Today(s.clock.Now())
}

// SyncDay syncs a single day.
func (s *Scheduler) SyncDay(ctx context.Context, competitionID, period, day string, categories, athleteIDs []string) (*types.SyncRun, error) {
	return s.SyncRange(ctx, RangeRequest{
		CompetitionID: competitionID,
		Period:        period,
		StartDate:     day,
		EndDate:       day,
		Categories:    categories,
		AthleteIDs:    athleteIDs,
		Trigger:       "day",
	})
}

// SyncRange resolves every pending (athlete, day) in the request. Athletes
// whose fetch fails keep their days unresolved for the next run. The
// returned run is persisted to the run log even when ctx is cancelled
// part way through.
func (s *Scheduler) SyncRange(ctx context.Context, req RangeRequest) (*types.SyncRun, error) {
	days, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	run := &types.SyncRun{
		RunID:         s.newID(),
		CompetitionID: req.CompetitionID,
		Period:        req.Period,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Trigger:       req.Trigger,
		StartedAt:     s.clock.Now(),
	}
	logger := s.logger.With("run_id", run.RunID, "competition_id", req.CompetitionID, "period", req.Period)
	logger.Info("Sync started", "start", req.StartDate, "end", req.EndDate, "categories", req.Categories, "athlete_ids", len(req.AthleteIDs))

	var runErr error
	for _, g := range groups(req) {
		summary, err := s.syncGroup(ctx, logger, req, g, days)
		run.Categories = append(run.Categories, summary)
		if err != nil {
			runErr = err
			break
		}
	}
	run.FinishedAt = s.clock.Now()

	if err := s.store.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("Failed to save sync run", "error", err)
	}
	logger.Info("Sync finished", "duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(), "error", runErr)
	return run, runErr
}

func (s *Scheduler) validate(req *RangeRequest) ([]string, error) {
	if req.CompetitionID == "" {
		return nil, fmt.Errorf("%w: competitionId is required", ErrMalformedInput)
	}
	if req.StartDate == "" || req.EndDate == "" {
		return nil, fmt.Errorf("%w: startDate and endDate are required", ErrMalformedInput)
	}
	days, err := s.cal.Days(req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if req.Period == "" {
		req.Period, _ = s.cal.PeriodOf(req.StartDate)
	}
	periodDays, err := s.cal.PeriodDays(req.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if first, last := periodDays[0], periodDays[len(periodDays)-1]; days[0] < first || days[len(days)-1] > last {
		return nil, fmt.Errorf("%w: range %s..%s is outside period %s", ErrMalformedInput, req.StartDate, req.EndDate, req.Period)
	}
	if req.Trigger == "" {
		req.Trigger = "range"
	}
	return days, nil
}

type group struct {
	label  string
	filter types.AthleteFilter
}

func groups(req RangeRequest) []group {
	if len(req.AthleteIDs) > 0 {
		return []group{{label: IDListCategory, filter: types.AthleteFilter{IDs: req.AthleteIDs}}}
	}
	if len(req.Categories) == 0 {
		return []group{{label: AllCategories}}
	}
	out := make([]group, 0, len(req.Categories))
	for _, c := range req.Categories {
		out = append(out, group{label: c, filter: types.AthleteFilter{Categories: []string{c}}})
	}
	return out
}

// work is one athlete's pending share of the range.
type work struct {
	handle *athlete.Handle
	days   []string
	acts   []types.Activity
	err    error
}

func (s *Scheduler) syncGroup(ctx context.Context, logger *slog.Logger, req RangeRequest, g group, days []string) (types.CategorySummary, error) {
	summary := types.CategorySummary{Category: g.label}
	logger = logger.With("category", g.label)

	athletes, err := s.store.ListAthletes(ctx, g.filter)
	if err != nil {
		return summary, fmt.Errorf("list athletes for %s: %w", g.label, err)
	}

	var linked []*types.Athlete
	ids := make([]string, 0, len(athletes))
	for _, a := range athletes {
		if !a.CanSync() {
			logger.Debug("Athlete has no linked account", "athlete_id", a.ID)
			continue
		}
		linked = append(linked, a)
		ids = append(ids, a.ID)
	}
	summary.Total = len(linked)

	records, err := s.store.GetSyncRecords(ctx, req.CompetitionID, req.Period, ids)
	if err != nil {
		return summary, fmt.Errorf("load sync records for %s: %w", g.label, err)
	}

	var pending []*work
	for _, a := range linked {
		if rest := records[a.ID].Unresolved(days); len(rest) > 0 {
			pending = append(pending, &work{handle: athlete.NewHandle(a), days: rest})
		}
	}
	summary.Skipped = summary.Total - len(pending)
	summary.BatchSize = s.cfg.batchSize(len(pending))
	delay := s.cfg.batchDelay(len(pending), summary.BatchSize)
	summary.DelayMs = delay.Milliseconds()

	logger.Info("Pending work computed", "total", summary.Total, "pending", len(pending), "batch_size", summary.BatchSize, "delay_ms", summary.DelayMs)

	for start := 0; start < len(pending); start += summary.BatchSize {
		end := min(start+summary.BatchSize, len(pending))
		s.runBatch(ctx, logger, req, pending[start:end], &summary)
		summary.Batches++

		if end < len(pending) {
			if err := s.sleep(ctx, delay, "batch"); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

// runBatch fetches a batch concurrently, retries eligible failures one at
// a time, then writes every successful athlete in one bulk upsert.
func (s *Scheduler) runBatch(ctx context.Context, logger *slog.Logger, req RangeRequest, batch []*work, summary *types.CategorySummary) {
	defer metrics.ObserveBatch(summary.Category, time.Now())

	var g errgroup.Group
	g.SetLimit(len(batch))
	for _, w := range batch {
		g.Go(func() error {
			w.acts, w.err = s.fetch(ctx, w)
			return nil
		})
	}
	_ = g.Wait()

	var retry []*work
	for _, w := range batch {
		summary.Processed++
		if w.err == nil {
			continue
		}
		if strava.Retryable(w.err) && ctx.Err() == nil {
			retry = append(retry, w)
			continue
		}
		s.recordFailure(logger, summary, w, false)
	}

	for _, w := range retry {
		if err := s.sleep(ctx, s.cfg.RetryDelay, "retry"); err != nil {
			s.recordFailure(logger, summary, w, false)
			continue
		}
		w.acts, w.err = s.fetch(ctx, w)
		if w.err != nil {
			s.recordFailure(logger, summary, w, true)
		}
	}

	var patches []*types.SyncPatch
	present, empty := 0, 0
	for _, w := range batch {
		if w.err != nil {
			continue
		}
		snap := w.handle.Snapshot()
		key := types.SyncKey{CompetitionID: req.CompetitionID, Period: req.Period, AthleteID: snap.ID}
		patch := types.NewSyncPatch(key, snap.Summary())
		distribute(s.cal, patch, w.acts, w.days)
		patches = append(patches, patch)

		summary.Fetched += len(w.acts)
		present += len(patch.Activities)
		empty += len(patch.Status) - len(patch.Activities)
	}
	if len(patches) == 0 {
		return
	}

	if err := s.store.BulkUpsert(ctx, patches); err != nil {
		logger.Error("Bulk upsert failed", "patches", len(patches), "error", err)
		summary.WriteError = err.Error()
		for _, p := range patches {
			summary.Failed++
			summary.Failures = append(summary.Failures, types.AthleteFailure{
				AthleteID: p.Key.AthleteID,
				Kind:      types.FailureStoreWrite,
				Message:   err.Error(),
			})
		}
		return
	}
	summary.Written += len(patches)
	metrics.ObserveDaysResolved(string(types.SyncStatusPresent), present)
	metrics.ObserveDaysResolved(string(types.SyncStatusEmpty), empty)
}

// fetch covers the athlete's pending days with a single provider window.
func (s *Scheduler) fetch(ctx context.Context, w *work) ([]types.Activity, error) {
	after, before, err := s.cal.Window(w.days[0], w.days[len(w.days)-1])
	if err != nil {
		return nil, err
	}
	return s.fetcher.Fetch(ctx, w.handle, after, before)
}

func (s *Scheduler) recordFailure(logger *slog.Logger, summary *types.CategorySummary, w *work, retried bool) {
	kind := strava.FailureKind(w.err)
	logger.Warn("Athlete sync failed", "athlete_id", w.handle.ID(), "kind", kind, "retried", retried, "error", w.err)
	summary.Failed++
	summary.Failures = append(summary.Failures, types.AthleteFailure{
		AthleteID: w.handle.ID(),
		Kind:      kind,
		Message:   w.err.Error(),
		Retried:   retried,
	})
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration, tag string) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(d, "scheduler", tag)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Clear returns days to "not yet attempted" so the next run refetches them.
func (s *Scheduler) Clear(ctx context.Context, req types.ClearRequest) (types.ClearResult, error) {
	if req.CompetitionID == "" {
		return types.ClearResult{}, fmt.Errorf("%w: competitionId is required", ErrMalformedInput)
	}
	if len(req.Dates) == 0 {
		return types.ClearResult{}, fmt.Errorf("%w: dates are required", ErrMalformedInput)
	}
	for _, d := range req.Dates {
		if _, err := s.cal.ParseDay(d); err != nil {
			return types.ClearResult{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
	}

	res, err := s.store.ClearDays(ctx, req)
	if err != nil {
		return res, fmt.Errorf("clear sync days: %w", err)
	}
	s.logger.Info("Sync days cleared",
		"competition_id", req.CompetitionID,
		"dates", req.Dates,
		"athlete_ids", len(req.AthleteIDs),
		"dry_run", req.DryRun,
		"matched", res.Matched,
		"modified", res.Modified,
	)
	return res, nil
}
