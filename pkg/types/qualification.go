package types

import (
	"fmt"
	"time"
)

// FlagKey identifies a durable qualification flag. RuleVersion scopes the
// flag so that a rule change can force re-evaluation.
type FlagKey struct {
	RuleVersion string
	Category    string
	AthleteID   string
}

// DocID is the document id of the flag in the store.
func (k FlagKey) DocID() string {
	return fmt.Sprintf("%s_%s_%s", k.RuleVersion, k.Category, k.AthleteID)
}

// QualificationEvent is published the first time an athlete qualifies.
type QualificationEvent struct {
	RuleVersion   string    `json:"ruleVersion"`
	Category      string    `json:"category"`
	AthleteID     string    `json:"athleteId"`
	AthleteName   string    `json:"athleteName,omitempty"`
	CompetitionID string    `json:"competitionId,omitempty"`
	Period        string    `json:"period,omitempty"`
	TotalDistance float64   `json:"totalDistance"`
	ActiveDays    int       `json:"activeDays"`
	QualifiedAt   time.Time `json:"qualifiedAt"`
}
