// Package calendar maps provider timestamps onto the competition's civil
// calendar, which is pinned to a single fixed timezone.
package calendar

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DayLayout       = "2006-01-02"
	PeriodLayout    = "2006-01"
	DefaultTimezone = "Asia/Kolkata"

	// MaxRangeDays bounds a single sync range.
	MaxRangeDays = 62
)

var ErrInvalidDay = errors.New("invalid day")

type Calendar struct {
	loc *time.Location
}

// New loads the named timezone.
func New(tz string) (*Calendar, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Calendar{loc: loc}, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(tz string) *Calendar {
	c, err := New(tz)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// ParseDay parses a strict YYYY-MM-DD key as local midnight.
func (c *Calendar) ParseDay(day string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, day, c.loc)
	if err != nil || t.Format(DayLayout) != day {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDay, day)
	}
	return t, nil
}

// DayKey returns the civil day of t in the competition timezone.
func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// Today returns the current civil day.
func (c *Calendar) Today(now time.Time) string {
	return c.DayKey(now)
}

// AddDays shifts a day key by n days.
func (c *Calendar) AddDays(day string, n int) (string, error) {
	t, err := c.ParseDay(day)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayLayout), nil
}

// Days enumerates the inclusive range [start, end].
func (c *Calendar) Days(start, end string) ([]string, error) {
	s, err := c.ParseDay(start)
	if err != nil {
		return nil, err
	}
	e, err := c.ParseDay(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidDay, end, start)
	}
	var days []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayLayout))
		if len(days) > MaxRangeDays {
			return nil, fmt.Errorf("%w: range exceeds %d days", ErrInvalidDay, MaxRangeDays)
		}
	}
	return days, nil
}

// Window returns the half-open instant window [after, before) covering the
// civil days first through last.
func (c *Calendar) Window(first, last string) (after, before time.Time, err error) {
	after, err = c.ParseDay(first)
	if err != nil {
		return
	}
	end, err := c.ParseDay(last)
	if err != nil {
		return
	}
	before = end.AddDate(0, 0, 1)
	return after, before, nil
}

// PeriodDays lists every day of a YYYY-MM period.
func (c *Calendar) PeriodDays(period string) ([]string, error) {
	t, err := time.ParseInLocation(PeriodLayout, period, c.loc)
	if err != nil || t.Format(PeriodLayout) != period {
		return nil, fmt.Errorf("%w: period %q (want YYYY-MM)", ErrInvalidDay, period)
	}
	last := t.AddDate(0, 1, -1)
	return c.Days(t.Format(DayLayout), last.Format(DayLayout))
}

// PeriodOf returns the YYYY-MM period containing day.
func (c *Calendar) PeriodOf(day string) (string, error) {
	t, err := c.ParseDay(day)
	if err != nil {
		return "", err
	}
	return t.Format(PeriodLayout), nil
}
