// Package availability computes bookable slots from a doctor's working hours
// and the busy intervals read from their calendar. It performs no I/O.
package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
)

const clockLayout = "15:04"

// DayHours is one working interval within a day, "09:00" style in UTC.
type DayHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WorkingHours maps a lowercase weekday name ("monday") to that day's hours.
// A weekday without an entry is a day off.
type WorkingHours map[string]DayHours

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday resolves a weekday name case-insensitively.
func ParseWeekday(name string) (time.Weekday, bool) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return day, ok
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("availability: parse clock %q: %w", value, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Bounds returns the start and end offsets from midnight.
func (d DayHours) Bounds() (time.Duration, time.Duration, error) {
	start, err := ParseClock(d.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(d.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Validate checks weekday names and that every interval has start < end.
// Keys that differ only by case or surrounding space name the same weekday
// and are rejected, since Normalize could keep either one.
func (w WorkingHours) Validate() error {
	seen := make(map[time.Weekday]string, len(w))
	for name, hours := range w {
		day, ok := ParseWeekday(name)
		if !ok {
			return apperrors.New(apperrors.KindInvalidInput, "availability.validate", "unknown weekday %q", name)
		}
		if prev, dup := seen[day]; dup {
			return apperrors.New(apperrors.KindInvalidInput, "availability.validate",
				"%s given more than once (%q and %q)", strings.ToLower(day.String()), prev, name)
		}
		seen[day] = name
		start, end, err := hours.Bounds()
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalidInput, "availability.validate", err)
		}
		if start >= end {
			return apperrors.New(apperrors.KindInvalidRange, "availability.validate",
				"%s: start %s is not before end %s", name, hours.Start, hours.End)
		}
	}
	return nil
}

// Normalize lowercases weekday keys and trims clock values.
func (w WorkingHours) Normalize() WorkingHours {
	out := make(WorkingHours, len(w))
	for name, hours := range w {
		out[strings.ToLower(strings.TrimSpace(name))] = DayHours{
			Start: strings.TrimSpace(hours.Start),
			End:   strings.TrimSpace(hours.End),
		}
	}
	return out
}

// ForWeekday returns the hours for the given weekday, if any.
func (w WorkingHours) ForWeekday(day time.Weekday) (DayHours, bool) {
	hours, ok := w[strings.ToLower(day.String())]
	return hours, ok
}

// IntervalOn returns the concrete working interval for the UTC calendar day
// containing date, or false for a day off.
func (w WorkingHours) IntervalOn(date time.Time) (Interval, bool) {
	day := startOfDay(date)
	hours, ok := w.ForWeekday(day.Weekday())
	if !ok {
		return Interval{}, false
	}
	start, end, err := hours.Bounds()
	if err != nil || start >= end {
		return Interval{}, false
	}
	return Interval{Start: day.Add(start), End: day.Add(end)}, true
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
