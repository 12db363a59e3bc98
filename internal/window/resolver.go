// Package window converts instants into viewing days.
//
// A viewing day starts at the profile's reset hour rather than at midnight,
// so viewing at 01:00 still draws from the previous day's allowance when the
// reset hour is later than that.
package window

import (
	"fmt"
	"time"
)

// LoadLocation resolves an IANA time zone identifier. The empty string is UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// ResolveViewingDay returns the viewing day that now falls in.
func ResolveViewingDay(now time.Time, loc *time.Location, resetHour int) Day {
	local := now.In(loc)
	day := DayOf(local)
	if local.Hour() < resetHour {
		return day.AddDays(-1)
	}
	return day
}

// NextResetInstant returns the UTC instant at which the viewing day ends:
// local midnight of the following day plus resetHour.
func NextResetInstant(day Day, resetHour int, loc *time.Location) time.Time {
	next := day.AddDays(1)
	return time.Date(next.Year, next.Month, next.Day, resetHour, 0, 0, 0, loc).UTC()
}

// DayStart returns the UTC instant at which the viewing day begins.
func DayStart(day Day, resetHour int, loc *time.Location) time.Time {
	return time.Date(day.Year, day.Month, day.Day, resetHour, 0, 0, 0, loc).UTC()
}
