// Package calendar is the narrow boundary to a doctor's externally hosted
// calendar. It carries no scheduling rules.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/availability"
)

var (
	// ErrEventNotFound is returned when an event id is unknown or already deleted.
	ErrEventNotFound = errors.New("calendar: event not found")
	// ErrConflict is returned by stores that refuse overlapping busy events.
	ErrConflict = errors.New("calendar: conflicting busy event")
)

// EventKind tags events written by this service so they can be told apart later.
type EventKind string

const (
	KindAppointment EventKind = "appointment"
	KindBlock       EventKind = "block"
	KindFreeMarker  EventKind = "free_marker"
	KindExternal    EventKind = ""
)

const (
	// FreeMarkerTitle is the summary written on availability display blocks.
	FreeMarkerTitle = "Available for Appointments"
	// BlockTitle is the summary written on manual exclusions.
	BlockTitle = "Blocked Time"
)

// Event is a calendar entry as read from the remote store.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Busy        bool      `json:"busy"`
	Kind        EventKind `json:"kind,omitempty"`
}

// IsFreeMarker reports whether the event is a generated availability block.
func (e Event) IsFreeMarker() bool {
	if e.Kind == KindFreeMarker {
		return true
	}
	return !e.Busy && e.Title == FreeMarkerTitle
}

// Interval returns the event's half-open time range.
func (e Event) Interval() availability.Interval {
	return availability.Interval{Start: e.Start, End: e.End}
}

// EventInput describes an event to create.
type EventInput struct {
	Start       time.Time
	End         time.Time
	Title       string
	Description string
	Busy        bool
	Kind        EventKind
}

// Gateway is the set of remote calendar operations the scheduling core uses.
// resourceID identifies the doctor's calendar.
type Gateway interface {
	ListEvents(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, resourceID string, in EventInput) (string, error)
	UpdateEvent(ctx context.Context, resourceID, eventID string, start, end time.Time) error
	// DeleteEvent returns ErrEventNotFound for ids that are already gone.
	DeleteEvent(ctx context.Context, resourceID, eventID string) error
}

// BusyIntervals keeps busy events, skipping any id in exclude.
func BusyIntervals(events []Event, exclude ...string) []availability.Interval {
	out := make([]availability.Interval, 0, len(events))
outer:
	for _, e := range events {
		if !e.Busy {
			continue
		}
		for _, id := range exclude {
			if id != "" && e.ID == id {
				continue outer
			}
		}
		out = append(out, e.Interval())
	}
	return out
}
