package scoring

import (
	"sort"

	"github.com/stridetally/server/pkg/types"
)

// Entry is one row of a category leaderboard.
type Entry struct {
	Athlete          types.Summary               `json:"athlete"`
	Placeholder      bool                        `json:"placeholder"`
	ActivitiesByDate map[string][]types.Activity `json:"activitiesByDate"`
	Standing
	Celebrate bool `json:"celebrate"`
}

// Rank orders entries in place: linked accounts before placeholders, then
// by total distance descending. Ties keep name order so output is stable.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Placeholder != b.Placeholder {
			return !a.Placeholder
		}
		if a.TotalDistance != b.TotalDistance {
			return a.TotalDistance > b.TotalDistance
		}
		return a.Athlete.Name < b.Athlete.Name
	})
}
