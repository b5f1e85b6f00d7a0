package types

import "time"

// Activity is an immutable, normalized provider activity.
type Activity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Distance   float64   `json:"distance"`   // kilometers, two decimals
	MovingTime int       `json:"movingTime"` // seconds
	StartDate  time.Time `json:"startDate"`  // competition timezone
	Kind       string    `json:"kind"`
}

// DayDistance sums the distance of a day's activities.
func DayDistance(acts []Activity) float64 {
	var total float64
	for _, a := range acts {
		total += a.Distance
	}
	return total
}
