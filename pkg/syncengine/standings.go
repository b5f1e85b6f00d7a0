package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/stridetally/server/pkg/domain/qualification"
	"github.com/stridetally/server/pkg/domain/scoring"
	"github.com/stridetally/server/pkg/types"
)

// StandingsRequest selects one leaderboard. AsOf defaults to today.
type StandingsRequest struct {
	CompetitionID string
	Period        string
	Category      string
	AsOf          string
}

// Standings computes leaderboards from stored sync records and fires
// first-qualification celebrations as a side effect.
type Standings struct {
	store   Store
	tracker *qualification.Tracker
	rules   scoring.Rules
	sched   *Scheduler
	logger  *slog.Logger
}

func NewStandings(store Store, tracker *qualification.Tracker, rules scoring.Rules, sched *Scheduler, logger *slog.Logger) *Standings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standings{
		store:   store,
		tracker: tracker,
		rules:   rules,
		sched:   sched,
		logger:  logger.With("component", "standings"),
	}
}

// Rules returns the active rule-set.
func (s *Standings) Rules() scoring.Rules {
	return s.rules
}

// Compute returns the ranked entries for the request. Only days inside the
// period and up to the cutoff count. Placeholder athletes are listed with
// empty activity so the roster is complete.
func (s *Standings) Compute(ctx context.Context, req StandingsRequest) ([]scoring.Entry, error) {
	cal := s.sched.Calendar()
	if req.CompetitionID == "" || req.Period == "" {
		return nil, fmt.Errorf("%w: competitionId and period are required", ErrMalformedInput)
	}
	periodDays, err := cal.PeriodDays(req.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	cutoff := req.AsOf
	if cutoff == "" {
		cutoff = s.sched.Today()
	} else if _, err := cal.ParseDay(cutoff); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	first, last := periodDays[0], periodDays[len(periodDays)-1]
	if cutoff < last {
		last = cutoff
	}

	filter := types.AthleteFilter{IncludePlaceholders: true}
	if req.Category != "" {
		filter.Categories = []string{req.Category}
	}
	athletes, err := s.store.ListAthletes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}
	records, err := s.store.ListSyncRecords(ctx, req.CompetitionID, req.Period)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	byAthlete := make(map[string]*types.SyncRecord, len(records))
	for _, r := range records {
		byAthlete[r.AthleteID] = r
	}

	entries := make([]scoring.Entry, 0, len(athletes))
	for _, a := range athletes {
		category := a.CategoryOrDefault()
		goal, err := scoring.CategoryGoal(category)
		if err != nil {
			s.logger.Warn("Athlete category has no goal", "athlete_id", a.ID, "error", err)
			goal = math.Inf(1)
		}

		acts := map[string][]types.Activity{}
		if r := byAthlete[a.ID]; r != nil {
			acts = scoring.Within(r.ActivitiesByDate, first, last)
		}

		e := scoring.Entry{
			Athlete:          a.Summary(),
			Placeholder:      a.Placeholder,
			ActivitiesByDate: acts,
			Standing:         scoring.Compute(acts, last, category, goal, s.rules),
		}
		if !a.Placeholder && s.tracker != nil {
			e.Celebrate, err = s.tracker.Evaluate(ctx, qualification.Input{
				AthleteID:     a.ID,
				AthleteName:   a.DisplayName(),
				Category:      category,
				CompetitionID: req.CompetitionID,
				Period:        req.Period,
				Standing:      e.Standing,
			})
			if err != nil {
				s.logger.Warn("Qualification evaluation failed", "athlete_id", a.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}

	scoring.Rank(entries)
	return entries, nil
}
