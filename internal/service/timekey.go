package service

import "time"

const dayKeyLayout = "2006-01-02"

// DayKey returns the UTC calendar date of t as YYYY-MM-DD
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// WeekKey returns the DayKey of the Monday that starts t's ISO week in UTC
func WeekKey(t time.Time) string {
	u := t.UTC()
	// Monday=0 .. Sunday=6
	offset := (int(u.Weekday()) + 6) % 7
	monday := time.Date(u.Year(), u.Month(), u.Day()-offset, 0, 0, 0, 0, time.UTC)
	return DayKey(monday)
}

// IsNewWeek reports whether a stored week key has been superseded
func IsNewWeek(stored, current string) bool {
	return stored != current
}

// ParseDayKey parses a key produced by DayKey or WeekKey
func ParseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation(dayKeyLayout, key, time.UTC)
}
