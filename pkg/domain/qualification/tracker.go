// Package qualification detects the first time an athlete qualifies in a
// category and fires a one-time celebration.
package qualification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/scoring"
	"github.com/stridetally/server/pkg/types"
)

// Notifier signals a first qualification.
type Notifier interface {
	Celebrate(ctx context.Context, ev types.QualificationEvent) error
}

// Input is one evaluation of an athlete's standing.
type Input struct {
	AthleteID     string
	AthleteName   string
	Category      string
	CompetitionID string
	Period        string
	Standing      scoring.Standing
}

// Tracker owns the durable per-(version, category, athlete) flag.
type Tracker struct {
	flags       shared.FlagStore
	notifier    Notifier
	ruleVersion string
	logger      *slog.Logger
	now         func() time.Time
}

func NewTracker(flags shared.FlagStore, notifier Notifier, ruleVersion string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		flags:       flags,
		notifier:    notifier,
		ruleVersion: ruleVersion,
		logger:      logger.With("component", "qualification"),
		now:         time.Now,
	}
}

// Key returns the flag key for athlete in category under the tracker's
// rule version.
func (t *Tracker) Key(category, athleteID string) types.FlagKey {
	return types.FlagKey{RuleVersion: t.ruleVersion, Category: category, AthleteID: athleteID}
}

// Evaluate reports whether this evaluation is the first qualified one. The
// flag is persisted before the notifier runs; the store's create-if-absent
// decides the single winner when evaluations race.
func (t *Tracker) Evaluate(ctx context.Context, in Input) (bool, error) {
	if !in.Standing.IsQualified {
		return false, nil
	}

	key := t.Key(in.Category, in.AthleteID)
	created, err := t.flags.CreateQualificationFlag(ctx, key)
	if err != nil {
		return false, fmt.Errorf("qualification flag %s: %w", key.DocID(), err)
	}
	if !created {
		return false, nil
	}

	t.logger.Info("Athlete qualified",
		"athlete_id", in.AthleteID,
		"category", in.Category,
		"rule_version", t.ruleVersion,
		"total_distance", in.Standing.TotalDistance,
		"active_days", in.Standing.ActiveDays,
	)

	if t.notifier != nil {
		ev := types.QualificationEvent{
			RuleVersion:   t.ruleVersion,
			Category:      in.Category,
			AthleteID:     in.AthleteID,
			AthleteName:   in.AthleteName,
			CompetitionID: in.CompetitionID,
			Period:        in.Period,
			TotalDistance: in.Standing.TotalDistance,
			ActiveDays:    in.Standing.ActiveDays,
			QualifiedAt:   t.now().UTC(),
		}
		// The flag is already durable; a lost notification is not retried.
		if err := t.notifier.Celebrate(ctx, ev); err != nil {
			t.logger.Warn("Celebration notification failed", "athlete_id", in.AthleteID, "error", err)
		}
	}
	return true, nil
}

// WasFlagged reports whether the athlete has already celebrated.
func (t *Tracker) WasFlagged(ctx context.Context, category, athleteID string) (bool, error) {
	return t.flags.GetQualificationFlag(ctx, t.Key(category, athleteID))
}
