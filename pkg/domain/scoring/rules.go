package scoring

import (
	"fmt"
	"sort"
	"strconv"
)

// Rules holds every numeric threshold of a scoring rule-set. The
// thresholds have changed across competition editions, so they are
// versioned rather than fixed.
type Rules struct {
	Version             string
	DailyCap            float64
	BonusThreshold      float64
	BonusCap            float64
	BonusCategories     []string
	ActiveDaysThreshold int
}

var ruleSets = map[string]Rules{
	// v1: 20 active days, daily cap 12, one 21 km bonus day for the 200 tier.
	"v1": {
		Version:             "v1",
		DailyCap:            12,
		BonusThreshold:      21,
		BonusCap:            21,
		BonusCategories:     []string{"200"},
		ActiveDaysThreshold: 20,
	},
	// v2: the 22-day rule.
	"v2": {
		Version:             "v2",
		DailyCap:            12,
		BonusThreshold:      21,
		BonusCap:            21,
		BonusCategories:     []string{"200"},
		ActiveDaysThreshold: 22,
	},
}

// DefaultVersion is used when no rule version is configured.
const DefaultVersion = "v1"

// RulesFor returns the named rule-set.
func RulesFor(version string) (Rules, error) {
	if version == "" {
		version = DefaultVersion
	}
	r, ok := ruleSets[version]
	if !ok {
		return Rules{}, fmt.Errorf("unknown rules version %q (known: %v)", version, Versions())
	}
	r.BonusCategories = append([]string(nil), r.BonusCategories...)
	return r, nil
}

// DefaultRules returns the default rule-set.
func DefaultRules() Rules {
	r, _ := RulesFor(DefaultVersion)
	return r
}

// Versions lists the known rule versions.
func Versions() []string {
	out := make([]string, 0, len(ruleSets))
	for v := range ruleSets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasBonus reports whether category is eligible for the bonus day.
func (r Rules) HasBonus(category string) bool {
	for _, c := range r.BonusCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Validate rejects rule-sets that cannot produce meaningful standings.
func (r Rules) Validate() error {
	if r.DailyCap <= 0 {
		return fmt.Errorf("daily cap must be positive, got %v", r.DailyCap)
	}
	if r.BonusCap < r.DailyCap {
		return fmt.Errorf("bonus cap %v below daily cap %v", r.BonusCap, r.DailyCap)
	}
	if r.ActiveDaysThreshold < 0 {
		return fmt.Errorf("active days threshold must not be negative, got %d", r.ActiveDaysThreshold)
	}
	return nil
}

// CategoryGoal parses the distance goal from a category name such as "150".
func CategoryGoal(category string) (float64, error) {
	goal, err := strconv.ParseFloat(category, 64)
	if err != nil || goal <= 0 {
		return 0, fmt.Errorf("category %q has no numeric distance goal", category)
	}
	return goal, nil
}
