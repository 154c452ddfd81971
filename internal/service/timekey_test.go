package service

import (
	"testing"
	"time"
)

func TestDayKey_UsesUTCDate(t *testing.T) {
	t.Parallel()
	tokyo := time.FixedZone("JST", 9*60*60)

	got := DayKey(time.Date(2024, 3, 2, 5, 0, 0, 0, tokyo))

	if got != "2024-03-01" {
		t.Errorf("expected 2024-03-01, got %s", got)
	}
}

func TestWeekKey_StartsOnMonday(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{"monday midnight", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01"},
		{"wednesday", time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), "2024-01-01"},
		{"sunday last second", time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC), "2024-01-01"},
		{"next monday", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), "2024-01-08"},
		{"crosses year", time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), "2024-12-30"},
		{"offset zone", time.Date(2024, 1, 8, 5, 0, 0, 0, time.FixedZone("JST", 9*60*60)), "2024-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeekKey(tc.at); got != tc.want {
				t.Errorf("WeekKey(%v) = %s, want %s", tc.at, got, tc.want)
			}
		})
	}
}

func TestIsNewWeek(t *testing.T) {
	t.Parallel()
	if IsNewWeek("2024-01-01", "2024-01-01") {
		t.Error("same week should not be new")
	}
	if !IsNewWeek("2024-01-01", "2024-01-08") {
		t.Error("later week should be new")
	}
	if !IsNewWeek("", "2024-01-08") {
		t.Error("empty stored key should be new")
	}
}

func TestParseDayKey_RoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	parsed, err := ParseDayKey(DayKey(at))

	if err != nil {
		t.Fatalf("ParseDayKey failed: %v", err)
	}
	if !parsed.Equal(at) {
		t.Errorf("expected %v, got %v", at, parsed)
	}
	if _, err := ParseDayKey("2024/02/29"); err == nil {
		t.Error("expected error for malformed key")
	}
}
