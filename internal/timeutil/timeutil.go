// Package timeutil normalizes timestamps to the reference zone and handles
// patient-facing timezone conversion.
//
// Every timestamp entering persistence must be in the reference zone (UTC).
// Patient timezones are display-only; unknown zone names degrade to the
// reference zone with a warning rather than failing, because nurse-facing
// tooling must never hard-crash mid-conversation.
package timeutil

import (
	"fmt"
	"log/slog"
	"time"
)

// ReferenceZone is the single zone all persisted instants are normalized to.
var ReferenceZone = time.UTC

// naiveLayouts are accepted for ISO-8601 strings without zone information.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Now returns the current instant in the reference zone.
func Now() time.Time {
	return time.Now().In(ReferenceZone)
}

// ParseToReference parses an ISO-8601 string and normalizes it to the
// reference zone. Strings without zone information are assumed to already be
// in the reference zone; that leniency is logged, not rejected. Malformed
// strings are an error.
func ParseToReference(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(ReferenceZone), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, ReferenceZone); err == nil {
			slog.Warn("ParseToReference: timestamp has no zone info, assuming reference zone", "value", value)
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", value)
}

// ToReference converts an instant to the reference zone.
func ToReference(t time.Time) time.Time {
	return t.In(ReferenceZone)
}

// AssumeZone reinterprets the wall-clock fields of t in the supplied zone and
// converts the result to the reference zone. It is the ingestion path for
// timestamps whose zone was lost upstream.
func AssumeZone(t time.Time, zone *time.Location) time.Time {
	if zone == nil {
		zone = ReferenceZone
	}
	rebound := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
	return rebound.In(ReferenceZone)
}

// LoadPatientZone resolves a patient zone name, degrading to the reference
// zone with a warning when the name is unknown.
func LoadPatientZone(name string) *time.Location {
	if name == "" {
		return ReferenceZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("LoadPatientZone: unknown timezone, using reference zone", "zone", name, "error", err)
		return ReferenceZone
	}
	return loc
}

// ToPatientZone converts an instant into the patient's local zone for display.
func ToPatientZone(t time.Time, patientZone string) time.Time {
	return t.In(LoadPatientZone(patientZone))
}

// FormatForPatient renders an instant in the patient's local zone.
func FormatForPatient(t time.Time, patientZone string) string {
	return ToPatientZone(t, patientZone).Format("Monday, January 2 at 3:04 PM MST")
}

// AddBusinessHoursOffset adds offsetHours to base and then adjusts the result,
// evaluated in the patient's local zone, so it lands within business hours on
// a weekday: times before businessStart are moved up to businessStart that
// day, times at or after businessEnd move to businessStart the next day, and
// weekends skip forward to Monday. The adjusted instant is returned in the
// reference zone.
func AddBusinessHoursOffset(base time.Time, offsetHours int, patientZone string, businessStart, businessEnd int) time.Time {
	loc := LoadPatientZone(patientZone)
	local := base.Add(time.Duration(offsetHours) * time.Hour).In(loc)

	if local.Hour() < businessStart {
		local = time.Date(local.Year(), local.Month(), local.Day(), businessStart, 0, 0, 0, loc)
	} else if local.Hour() >= businessEnd {
		next := local.AddDate(0, 0, 1)
		local = time.Date(next.Year(), next.Month(), next.Day(), businessStart, 0, 0, 0, loc)
	}

	for local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		next := local.AddDate(0, 0, 1)
		local = time.Date(next.Year(), next.Month(), next.Day(), businessStart, 0, 0, 0, loc)
	}

	return local.In(ReferenceZone)
}
