package types

import "time"

// AthleteStatus tracks registration confirmation.
type AthleteStatus string

const (
	AthleteStatusPending   AthleteStatus = "pending"
	AthleteStatusConfirmed AthleteStatus = "confirmed"
)

// DefaultCategory is assigned when an athlete has no category recorded.
const DefaultCategory = "100"

// DefaultRestDay is the weekly rest day of an athlete who never chose one.
const DefaultRestDay = "Monday"

// Credentials is the opaque provider credential pair. The refresh token is
// durable; the access token is replaced on every refresh.
type Credentials struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"-"`
}

// Athlete is a competition participant. Placeholder athletes were
// pre-registered and have no linked provider account yet.
type Athlete struct {
	ID          string        `json:"id"`
	FirstName   string        `json:"firstname"`
	LastName    string        `json:"lastname"`
	Profile     string        `json:"profile,omitempty"`
	Gender      string        `json:"gender,omitempty"`
	Email       string        `json:"-"`
	Category    string        `json:"category"`
	Status      AthleteStatus `json:"status"`
	Placeholder bool          `json:"placeholder"`
	RestDay     string        `json:"restDay,omitempty"`
	Credentials Credentials   `json:"-"`
	UpdatedAt   time.Time     `json:"-"`
}

// DisplayName joins first and last name.
func (a *Athlete) DisplayName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	if a.FirstName == "" {
		return a.LastName
	}
	return a.FirstName + " " + a.LastName
}

// CategoryOrDefault returns the athlete's category, falling back to DefaultCategory.
func (a *Athlete) CategoryOrDefault() string {
	if a.Category == "" {
		return DefaultCategory
	}
	return a.Category
}

// RestDayOrDefault returns the athlete's preferred rest day.
func (a *Athlete) RestDayOrDefault() string {
	if a.RestDay == "" {
		return DefaultRestDay
	}
	return a.RestDay
}

// CanSync reports whether the athlete has a linked provider account.
func (a *Athlete) CanSync() bool {
	return !a.Placeholder && a.Credentials.RefreshToken != ""
}

// Summary is the athlete snapshot embedded in sync records.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Gender   string `json:"gender,omitempty"`
	Category string `json:"category"`
	Profile  string `json:"profile,omitempty"`
}

// Summary returns the embeddable snapshot of the athlete.
func (a *Athlete) Summary() Summary {
	return Summary{
		ID:       a.ID,
		Name:     a.DisplayName(),
		Gender:   a.Gender,
		Category: a.CategoryOrDefault(),
		Profile:  a.Profile,
	}
}

// AthleteFilter selects athletes either by category or by explicit ids.
// When IDs is non-empty, Categories is ignored.
type AthleteFilter struct {
	Categories          []string
	IDs                 []string
	IncludePlaceholders bool
}
