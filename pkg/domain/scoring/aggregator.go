// Package scoring folds per-day activity lists into period standings.
package scoring

import (
	"math"
	"sort"

	"github.com/stridetally/server/pkg/types"
)

// Standing is an athlete's computed position for a period.
type Standing struct {
	TotalDistance float64 `json:"totalDistance"`
	ActiveDays    int     `json:"activeDays"`
	IsQualified   bool    `json:"isQualified"`
	BonusDay      string  `json:"bonusDay,omitempty"`
}

// Compute derives the standing from activitiesByDate, counting only days up
// to and including cutoff. Days are walked in chronological order because
// the bonus day is the first qualifying one. Compute has no side effects.
func Compute(activitiesByDate map[string][]types.Activity, cutoff, category string, goal float64, rules Rules) Standing {
	days := make([]string, 0, len(activitiesByDate))
	for day := range activitiesByDate {
		if cutoff != "" && day > cutoff {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)

	bonusEligible := rules.HasBonus(category)
	var s Standing
	var total float64

	for _, day := range days {
		raw := types.DayDistance(activitiesByDate[day])
		if raw <= 0 {
			continue
		}
		s.ActiveDays++

		counted := math.Min(raw, rules.DailyCap)
		if bonusEligible && s.BonusDay == "" && raw >= rules.BonusThreshold {
			counted = math.Min(raw, rules.BonusCap)
			s.BonusDay = day
		}
		total += counted
	}

	s.TotalDistance = round2(total)
	s.IsQualified = s.TotalDistance >= goal && s.ActiveDays >= rules.ActiveDaysThreshold
	return s
}

// Within returns the days of activitiesByDate in the inclusive range
// [first, last]. An empty bound is open.
func Within(activitiesByDate map[string][]types.Activity, first, last string) map[string][]types.Activity {
	out := make(map[string][]types.Activity, len(activitiesByDate))
	for day, acts := range activitiesByDate {
		if (first != "" && day < first) || (last != "" && day > last) {
			continue
		}
		out[day] = acts
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
