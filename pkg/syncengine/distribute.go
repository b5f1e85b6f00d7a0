package syncengine

import (
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/types"
)

// distribute attributes activities to their local competition day and
// resolves every day in days. Activities outside days are dropped; days
// without activities are resolved as empty.
func distribute(cal *calendar.Calendar, patch *types.SyncPatch, acts []types.Activity, days []string) {
	want := make(map[string]bool, len(days))
	for _, d := range days {
		want[d] = true
	}

	byDay := map[string][]types.Activity{}
	for _, a := range acts {
		day := cal.DayKey(a.StartDate)
		if !want[day] {
			continue
		}
		byDay[day] = append(byDay[day], a)
	}

	for _, d := range days {
		patch.SetDay(d, byDay[d])
	}
}
