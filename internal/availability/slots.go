package availability

import (
	"encoding/json"
	"iter"
	"slices"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Slot is a candidate appointment window.
type Slot struct {
	Start    time.Time
	Duration time.Duration
}

// End returns the exclusive end of the slot.
func (s Slot) End() time.Time {
	return s.Start.Add(s.Duration)
}

// Interval returns the slot as a half-open interval.
func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End()}
}

func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start           time.Time `json:"start"`
		End             time.Time `json:"end"`
		DurationMinutes int       `json:"duration_minutes"`
	}{
		Start:           s.Start.UTC(),
		End:             s.End().UTC(),
		DurationMinutes: int(s.Duration / time.Minute),
	})
}

// MaxWindow bounds how far a single ListFreeSlots call may scan.
const MaxWindow = 366 * 24 * time.Hour

// IsSlotFree reports whether slot overlaps none of the busy intervals.
func IsSlotFree(slot Slot, busy []Interval) bool {
	candidate := slot.Interval()
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return false
		}
	}
	return true
}

// ListFreeSlots returns the chronologically ordered free slots inside
// [windowStart, windowEnd]. Slots are generated per UTC day at a stride of
// slotDuration from the day's start; a slot is only produced when it ends at
// or before the working-hours end and lies entirely inside the window.
//
// The returned sequence is lazy and may be ranged over any number of times.
func ListFreeSlots(hours WorkingHours, busy []Interval, windowStart, windowEnd time.Time, slotDuration time.Duration) (iter.Seq[Slot], error) {
	if windowEnd.Before(windowStart) {
		return nil, apperrors.New(apperrors.KindInvalidRange, "availability.list",
			"window end %s is before start %s", windowEnd.UTC().Format(time.RFC3339), windowStart.UTC().Format(time.RFC3339))
	}
	if span := windowEnd.Sub(windowStart); span > MaxWindow {
		return nil, apperrors.New(apperrors.KindInvalidRange, "availability.list",
			"window of %s exceeds the %s limit", span, MaxWindow)
	}
	if slotDuration <= 0 {
		return nil, apperrors.New(apperrors.KindInvalidInput, "availability.list", "slot duration must be positive, got %s", slotDuration)
	}
	if err := hours.Validate(); err != nil {
		return nil, err
	}

	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()
	hours = hours.Normalize()
	busy = append([]Interval(nil), busy...)

	return func(yield func(Slot) bool) {
		lastDay := startOfDay(windowEnd)
		for day := startOfDay(windowStart); !day.After(lastDay); day = day.AddDate(0, 0, 1) {
			shift, ok := hours.IntervalOn(day)
			if !ok {
				continue
			}
			for start := shift.Start; !start.Add(slotDuration).After(shift.End); start = start.Add(slotDuration) {
				slot := Slot{Start: start, Duration: slotDuration}
				if start.Before(windowStart) || slot.End().After(windowEnd) {
					continue
				}
				if !IsSlotFree(slot, busy) {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}

// CollectFreeSlots materialises ListFreeSlots.
func CollectFreeSlots(hours WorkingHours, busy []Interval, windowStart, windowEnd time.Time, slotDuration time.Duration) ([]Slot, error) {
	seq, err := ListFreeSlots(hours, busy, windowStart, windowEnd, slotDuration)
	if err != nil {
		return nil, err
	}
	slots := slices.Collect(seq)
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}
