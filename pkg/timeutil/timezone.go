package timeutil

import (
	"fmt"
	"time"
)

// LoadLocation resolves an IANA timezone name, falling back to UTC when the
// name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// MinuteOfDay returns the minutes since local midnight for the instant in
// the given zone (0-1439).
func MinuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// LocalWeekday returns the weekday of the instant in the given zone using
// the 0=Sunday convention availability windows are keyed by. Go's
// time.Weekday already counts Sunday as 0; availability data must never be
// keyed by the ISO 1-7 numbering.
func LocalWeekday(t time.Time, loc *time.Location) int {
	return int(t.In(loc).Weekday())
}

// StartOfDay truncates the instant to local midnight in the given zone.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// SameLocalDay reports whether two instants fall on the same calendar day
// in the given zone.
func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	al, bl := a.In(loc), b.In(loc)
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}

// WeeksBetween returns the number of whole weeks from epoch to t, both
// evaluated in the given zone. Negative when t precedes epoch.
func WeeksBetween(epoch, t time.Time, loc *time.Location) int {
	days := int(StartOfDay(t, loc).Sub(StartOfDay(epoch, loc)).Hours() / 24)
	if days < 0 {
		return -((-days + 6) / 7)
	}
	return days / 7
}
