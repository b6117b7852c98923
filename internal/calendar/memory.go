package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway is an in-process event store. It backs local development and
// tests; with RejectConflicts it behaves like a remote that refuses a second
// busy event over the same time.
type MemoryGateway struct {
	mu              sync.Mutex
	events          map[string]map[string]Event
	rejectConflicts bool
	calls           map[string]int
}

// MemoryOption configures a MemoryGateway.
type MemoryOption func(*MemoryGateway)

// WithConflictRejection makes CreateEvent and UpdateEvent fail with
// ErrConflict when a busy event would overlap another busy event.
func WithConflictRejection() MemoryOption {
	return func(g *MemoryGateway) { g.rejectConflicts = true }
}

// NewMemoryGateway creates an empty store.
func NewMemoryGateway(opts ...MemoryOption) *MemoryGateway {
	g := &MemoryGateway{
		events: make(map[string]map[string]Event),
		calls:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListEvents returns events overlapping the window, ordered by start.
func (g *MemoryGateway) ListEvents(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["list"]++

	var out []Event
	for _, e := range g.events[resourceID] {
		if e.Start.Before(windowEnd) && windowStart.Before(e.End) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateEvent stores a new event and returns its id.
func (g *MemoryGateway) CreateEvent(ctx context.Context, resourceID string, in EventInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !in.Start.Before(in.End) {
		return "", fmt.Errorf("calendar: event end must follow start")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++

	if in.Busy && g.rejectConflicts && g.overlapsBusyLocked(resourceID, "", in.Start, in.End) {
		return "", ErrConflict
	}
	if g.events[resourceID] == nil {
		g.events[resourceID] = make(map[string]Event)
	}
	id := uuid.NewString()
	g.events[resourceID][id] = Event{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Start:       in.Start.UTC(),
		End:         in.End.UTC(),
		Busy:        in.Busy,
		Kind:        in.Kind,
	}
	return id, nil
}

// UpdateEvent moves an existing event.
func (g *MemoryGateway) UpdateEvent(ctx context.Context, resourceID, eventID string, start, end time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["update"]++

	e, ok := g.events[resourceID][eventID]
	if !ok {
		return ErrEventNotFound
	}
	if e.Busy && g.rejectConflicts && g.overlapsBusyLocked(resourceID, eventID, start, end) {
		return ErrConflict
	}
	e.Start = start.UTC()
	e.End = end.UTC()
	g.events[resourceID][eventID] = e
	return nil
}

// DeleteEvent removes an event; unknown ids yield ErrEventNotFound.
func (g *MemoryGateway) DeleteEvent(ctx context.Context, resourceID, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["delete"]++

	if _, ok := g.events[resourceID][eventID]; !ok {
		return ErrEventNotFound
	}
	delete(g.events[resourceID], eventID)
	return nil
}

// Get returns a stored event.
func (g *MemoryGateway) Get(resourceID, eventID string) (Event, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.events[resourceID][eventID]
	return e, ok
}

// Calls returns how many times op ("list", "create", "update", "delete") ran.
func (g *MemoryGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// TotalCalls returns the number of gateway calls of any kind.
func (g *MemoryGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

func (g *MemoryGateway) overlapsBusyLocked(resourceID, skipID string, start, end time.Time) bool {
	for id, e := range g.events[resourceID] {
		if id == skipID || !e.Busy {
			continue
		}
		if start.Before(e.End) && e.Start.Before(end) {
			return true
		}
	}
	return false
}
