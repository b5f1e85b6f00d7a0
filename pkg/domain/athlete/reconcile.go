package athlete

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/stridetally/server/pkg/types"
)

// MatchRule names the precedence level that produced a match.
type MatchRule string

const (
	MatchNone  MatchRule = "none"
	MatchID    MatchRule = "id"
	MatchEmail MatchRule = "email"
	MatchName  MatchRule = "name"
)

// ErrAmbiguousMatch is returned when a precedence level matches more than
// one record, or matches a linked account owned by someone else.
var ErrAmbiguousMatch = errors.New("ambiguous athlete match")

// AmbiguousMatchError lists the records that competed for a match.
type AmbiguousMatchError struct {
	Rule       MatchRule
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s: %d candidates by %s: %s",
		ErrAmbiguousMatch, len(e.Candidates), e.Rule, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// Identity is what a provider authorization tells us about a person.
type Identity struct {
	ID        string `json:"athleteId"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Match is the outcome of Reconcile. Athlete is nil when Rule is MatchNone.
type Match struct {
	Athlete *types.Athlete
	Rule    MatchRule
}

// Reconcile finds the existing record for an incoming identity. Precedence
// is id, then email (case-insensitive), then exact full name
// (case-insensitive) restricted to placeholder records. The first level
// with any hit decides; more than one hit at that level is ambiguous.
func Reconcile(existing []*types.Athlete, in Identity) (Match, error) {
	if in.ID != "" {
		for _, a := range existing {
			if a.ID == in.ID {
				return Match{Athlete: a, Rule: MatchID}, nil
			}
		}
	}

	if email := Fold(in.Email); email != "" {
		hits := filter(existing, func(a *types.Athlete) bool {
			return Fold(a.Email) == email
		})
		if m, err := decide(hits, MatchEmail); m.Rule != MatchNone || err != nil {
			if err == nil && in.ID != "" && !m.Athlete.Placeholder {
				// Linked to a different provider account already.
				return Match{Rule: MatchNone}, &AmbiguousMatchError{Rule: MatchEmail, Candidates: []string{m.Athlete.ID}}
			}
			return m, err
		}
	}

	name := Fold(in.FirstName + " " + in.LastName)
	if name != "" {
		hits := filter(existing, func(a *types.Athlete) bool {
			return a.Placeholder && Fold(a.DisplayName()) == name
		})
		if m, err := decide(hits, MatchName); m.Rule != MatchNone || err != nil {
			return m, err
		}
	}

	return Match{Rule: MatchNone}, nil
}

func decide(hits []*types.Athlete, rule MatchRule) (Match, error) {
	switch len(hits) {
	case 0:
		return Match{Rule: MatchNone}, nil
	case 1:
		return Match{Athlete: hits[0], Rule: rule}, nil
	}
	ids := make([]string, len(hits))
	for i, a := range hits {
		ids[i] = a.ID
	}
	return Match{Rule: MatchNone}, &AmbiguousMatchError{Rule: rule, Candidates: ids}
}

func filter(in []*types.Athlete, keep func(*types.Athlete) bool) []*types.Athlete {
	var out []*types.Athlete
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// Fold normalizes for caseless comparison and collapses whitespace.
func Fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
