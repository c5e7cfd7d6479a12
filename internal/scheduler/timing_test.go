package scheduler

import (
	"testing"
	"time"
)

var anchor = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestParseTimingSpecHoursAfter(t *testing.T) {
	times := ParseTimingSpec("24_hours_after_discharge", anchor)
	if len(times) != 1 {
		t.Fatalf("expected 1 time, got %d", len(times))
	}
	want := anchor.Add(24 * time.Hour)
	if !times[0].Equal(want) {
		t.Errorf("got %v, want %v", times[0], want)
	}
}

func TestParseTimingSpecHoursAfterArbitraryN(t *testing.T) {
	times := ParseTimingSpec("6_hours_after_discharge", anchor)
	if len(times) != 1 || !times[0].Equal(anchor.Add(6*time.Hour)) {
		t.Errorf("got %v, want anchor+6h", times)
	}
}

func TestParseTimingSpecDailySeries(t *testing.T) {
	times := ParseTimingSpec("daily_for_3_days_starting_12_hours_after_discharge", anchor)
	if len(times) != 3 {
		t.Fatalf("expected 3 times, got %d", len(times))
	}
	start := anchor.Add(12 * time.Hour)
	for i, got := range times {
		want := start.Add(time.Duration(i+1) * 24 * time.Hour)
		if !got.Equal(want) {
			t.Errorf("times[%d] = %v, want %v", i, got, want)
		}
	}
	// First call lands one full day after the series start, not at the start.
	if times[0].Equal(start) {
		t.Error("first call must not coincide with the series start offset")
	}
}

func TestParseTimingSpecDailySeriesTwoDays(t *testing.T) {
	times := ParseTimingSpec("daily_for_2_days_starting_12_hours_after_discharge", anchor)
	want := []time.Time{
		time.Date(2025, 1, 16, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 17, 22, 0, 0, 0, time.UTC),
	}
	if len(times) != len(want) {
		t.Fatalf("expected %d times, got %d", len(want), len(times))
	}
	for i := range want {
		if !times[i].Equal(want[i]) {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}
}

func TestParseTimingSpecDayBeforeDate(t *testing.T) {
	times := ParseTimingSpec("day_before_date:2025-02-10", anchor)
	if len(times) != 1 {
		t.Fatalf("expected 1 time, got %d", len(times))
	}
	want := time.Date(2025, 2, 9, dayBeforeCallHour, 0, 0, 0, time.UTC)
	if !times[0].Equal(want) {
		t.Errorf("got %v, want %v", times[0], want)
	}
}

func TestParseTimingSpecWithin24Hours(t *testing.T) {
	times := ParseTimingSpec("within_24_hours", anchor)
	if len(times) != 1 || !times[0].Equal(anchor.Add(18*time.Hour)) {
		t.Errorf("got %v, want anchor+18h", times)
	}
}

func TestParseTimingSpecUnrecognizedDefaults(t *testing.T) {
	for _, spec := range []string{"whenever", "", "day_before_date:not-a-date", "hourly_for_2_days"} {
		times := ParseTimingSpec(spec, anchor)
		if len(times) != 1 || !times[0].Equal(anchor.Add(24*time.Hour)) {
			t.Errorf("ParseTimingSpec(%q) = %v, want anchor+24h default", spec, times)
		}
	}
}

func TestParseTimingSpecNormalizesZone(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2025, 1, 15, 5, 0, 0, 0, est) // same instant as anchor
	times := ParseTimingSpec("24_hours_after_discharge", local)
	if !times[0].Equal(anchor.Add(24 * time.Hour)) {
		t.Errorf("zoned anchor changed the instant: %v", times[0])
	}
	if times[0].Location() != time.UTC {
		t.Errorf("result should be in the reference zone, got %v", times[0].Location())
	}
}
