package schema

import (
	"time"
)

// DateLayout is the canonical calendar-date format for goal and activity
// dates. All cycle arithmetic happens on this representation, never on
// full timestamps.
const DateLayout = "2006-01-02"

// DateString formats t as a calendar date in t's location.
func DateString(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a canonical calendar-date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// NormalizeDate coerces legacy date values down to the canonical
// calendar-date form. Older schema generations stored activity dates as
// full RFC3339 timestamps; anything parseable is truncated to its date.
// The second return is false when the value is not a recognizable date.
func NormalizeDate(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if _, err := time.Parse(DateLayout, s); err == nil {
		return s, true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), true
		}
	}
	return s, false
}

// DayInCycle computes the zero-based day within a goal's weekly cycle:
// floor((today - start) / 1 day) mod 7. The result is negative when today
// is before the start date; callers treat that as "not yet started".
func DayInCycle(startDate string, today time.Time) (int, error) {
	start, err := ParseDate(startDate)
	if err != nil {
		return 0, err
	}
	day, err := ParseDate(DateString(today))
	if err != nil {
		return 0, err
	}
	days := int(day.Sub(start).Hours() / 24)
	if days < 0 {
		return days, nil
	}
	return days % 7, nil
}

// IsRestDay reports whether the cycle day falls outside the goal's
// configured weekly active-day count.
func IsRestDay(dayInCycle, weeklyActiveDays int) bool {
	return dayInCycle >= weeklyActiveDays
}
