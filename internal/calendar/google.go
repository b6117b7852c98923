package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

var calendarTracer = otel.Tracer("scheduler.internal.calendar")

const kindProperty = "scheduler_kind"

// GoogleConfig configures the Google Calendar client.
type GoogleConfig struct {
	CredentialsFile string
	// Endpoint overrides the API base URL (emulators, tests).
	Endpoint string
	// SendUpdates is passed through to Google: "all", "externalOnly" or "none".
	SendUpdates string
}

// GoogleGateway implements Gateway on top of the Google Calendar v3 API.
// The resource id is the Google calendar id.
type GoogleGateway struct {
	svc         *gcal.Service
	sendUpdates string
	logger      *logging.Logger
}

// NewGoogleGateway builds a client using service-account credentials.
func NewGoogleGateway(ctx context.Context, cfg GoogleConfig, logger *logging.Logger, extra ...option.ClientOption) (*GoogleGateway, error) {
	opts := []option.ClientOption{option.WithScopes(gcal.CalendarScope)}
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if strings.TrimSpace(cfg.Endpoint) != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return NewGoogleGatewayWithService(svc, cfg.SendUpdates, logger), nil
}

// NewGoogleGatewayWithService wraps an existing service.
func NewGoogleGatewayWithService(svc *gcal.Service, sendUpdates string, logger *logging.Logger) *GoogleGateway {
	if svc == nil {
		panic("calendar: google service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if sendUpdates == "" {
		sendUpdates = "none"
	}
	return &GoogleGateway{svc: svc, sendUpdates: sendUpdates, logger: logger}
}

// ListEvents pages through single (expanded) events overlapping the window.
func (g *GoogleGateway) ListEvents(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]Event, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.list")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.resource_id", resourceID))

	call := g.svc.Events.List(resourceID).
		TimeMin(windowStart.UTC().Format(time.RFC3339)).
		TimeMax(windowEnd.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var out []Event
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, ok, err := fromGoogle(item)
			if err != nil {
				// A free event cannot block a slot; anything else might.
				if item.Transparency == "transparent" {
					g.logger.Warn("calendar: skipping unparsable free event", "event_id", item.Id, "error", err)
					continue
				}
				return fmt.Errorf("event %s: %w", item.Id, err)
			}
			if ok {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: list events: %w", mapGoogleErr(err))
	}
	return out, nil
}

// CreateEvent inserts an event and returns the id Google assigned.
func (g *GoogleGateway) CreateEvent(ctx context.Context, resourceID string, in EventInput) (string, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("calendar.resource_id", resourceID),
		attribute.String("calendar.kind", string(in.Kind)),
	)

	body := &gcal.Event{
		Summary:      in.Title,
		Description:  in.Description,
		Start:        toGoogleTime(in.Start),
		End:          toGoogleTime(in.End),
		Transparency: transparency(in.Busy),
	}
	if in.Kind != KindExternal {
		body.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{kindProperty: string(in.Kind)},
		}
	}

	created, err := g.svc.Events.Insert(resourceID, body).SendUpdates(g.sendUpdates).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("calendar: insert event: %w", mapGoogleErr(err))
	}
	return created.Id, nil
}

// UpdateEvent patches only the start and end of the event.
func (g *GoogleGateway) UpdateEvent(ctx context.Context, resourceID, eventID string, start, end time.Time) error {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.update")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.event_id", eventID))

	patch := &gcal.Event{Start: toGoogleTime(start), End: toGoogleTime(end)}
	if _, err := g.svc.Events.Patch(resourceID, eventID, patch).SendUpdates(g.sendUpdates).Context(ctx).Do(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: patch event: %w", mapGoogleErr(err))
	}
	return nil
}

// DeleteEvent removes the event. Google answers 404 or 410 for events that
// are already gone; both become ErrEventNotFound.
func (g *GoogleGateway) DeleteEvent(ctx context.Context, resourceID, eventID string) error {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.delete")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.event_id", eventID))

	if err := g.svc.Events.Delete(resourceID, eventID).SendUpdates(g.sendUpdates).Context(ctx).Do(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: delete event: %w", mapGoogleErr(err))
	}
	return nil
}

func mapGoogleErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %s", ErrEventNotFound, gerr.Message)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrConflict, gerr.Message)
		}
	}
	return err
}

func toGoogleTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.UTC().Format(time.RFC3339), TimeZone: "UTC"}
}

func transparency(busy bool) string {
	if busy {
		return "opaque"
	}
	return "transparent"
}

func fromGoogle(item *gcal.Event) (Event, bool, error) {
	if item == nil || item.Status == "cancelled" {
		return Event{}, false, nil
	}
	start, err := parseGoogleTime(item.Start)
	if err != nil {
		return Event{}, false, err
	}
	end, err := parseGoogleTime(item.End)
	if err != nil {
		return Event{}, false, err
	}
	ev := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		Busy:        item.Transparency != "transparent",
	}
	if item.ExtendedProperties != nil {
		ev.Kind = EventKind(item.ExtendedProperties.Private[kindProperty])
	}
	return ev, true, nil
}

// parseGoogleTime handles timed events and all-day events (date only).
func parseGoogleTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("calendar: missing event time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("calendar: parse dateTime: %w", err)
		}
		return t.UTC(), nil
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("calendar: parse date: %w", err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("calendar: empty event time")
}
