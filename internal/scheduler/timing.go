package scheduler

import (
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/carebridge/followcall/internal/timeutil"
)

// Timing-spec patterns consumed from discharge-order call templates.
var (
	hoursAfterPattern    = regexp.MustCompile(`^(\d+)_hours_after_discharge$`)
	dailySeriesPattern   = regexp.MustCompile(`^daily_for_(\d+)_days_starting_(\d+)_hours_after_discharge$`)
	dayBeforeDatePattern = regexp.MustCompile(`^day_before_date:(\d{4}-\d{2}-\d{2})$`)
)

// dayBeforeCallHour is the local hour for day-before-appointment reminders.
const dayBeforeCallHour = 14

// ParseTimingSpec expands a timing-spec string into one or more scheduled
// instants anchored on the discharge time. Recognized shapes:
//
//	"<N>_hours_after_discharge"                                anchor + N hours
//	"daily_for_<N>_days_starting_<M>_hours_after_discharge"    N daily calls, the first one day after anchor + M hours
//	"day_before_date:YYYY-MM-DD"                               2 PM on the day before the date
//	"within_24_hours"                                          anchor + 18 hours
//
// Unrecognized specs default to anchor + 24 hours with a warning instead of
// failing; discharge-order authoring must never hard-crash call generation.
func ParseTimingSpec(spec string, anchor time.Time) []time.Time {
	anchor = timeutil.ToReference(anchor)

	if m := hoursAfterPattern.FindStringSubmatch(spec); m != nil {
		hours, _ := strconv.Atoi(m[1])
		return []time.Time{anchor.Add(time.Duration(hours) * time.Hour)}
	}

	if m := dailySeriesPattern.FindStringSubmatch(spec); m != nil {
		days, _ := strconv.Atoi(m[1])
		startHours, _ := strconv.Atoi(m[2])
		start := anchor.Add(time.Duration(startHours) * time.Hour)
		times := make([]time.Time, 0, days)
		for i := 1; i <= days; i++ {
			times = append(times, start.Add(time.Duration(i)*24*time.Hour))
		}
		return times
	}

	if m := dayBeforeDatePattern.FindStringSubmatch(spec); m != nil {
		date, err := time.ParseInLocation("2006-01-02", m[1], timeutil.ReferenceZone)
		if err == nil {
			dayBefore := date.AddDate(0, 0, -1)
			return []time.Time{time.Date(dayBefore.Year(), dayBefore.Month(), dayBefore.Day(),
				dayBeforeCallHour, 0, 0, 0, timeutil.ReferenceZone)}
		}
		slog.Warn("ParseTimingSpec: unparseable date in spec, using default", "spec", spec, "error", err)
		return []time.Time{anchor.Add(24 * time.Hour)}
	}

	if spec == "within_24_hours" {
		return []time.Time{anchor.Add(18 * time.Hour)}
	}

	slog.Warn("ParseTimingSpec: unrecognized timing spec, defaulting to 24 hours after discharge", "spec", spec)
	return []time.Time{anchor.Add(24 * time.Hour)}
}
