package doctors

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/calendar"
	"github.com/wolfman30/appointment-scheduler/internal/observability/metrics"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

var doctorsTracer = otel.Tracer("scheduler.internal.doctors")

const appointmentTitlePrefix = "Appointment with "

// ScheduleOptions tunes the schedule manager.
type ScheduleOptions struct {
	// Horizon is how far ahead free-marker blocks are regenerated.
	Horizon        time.Duration
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
	Now            func() time.Time
}

func (o ScheduleOptions) withDefaults() ScheduleOptions {
	if o.Horizon <= 0 {
		o.Horizon = 30 * 24 * time.Hour
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ScheduleManager administers a doctor's declared availability and the
// calendar blocks derived from it.
type ScheduleManager struct {
	repo    Repository
	gateway calendar.Gateway
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
	opts    ScheduleOptions
}

// NewScheduleManager wires the manager.
func NewScheduleManager(repo Repository, gateway calendar.Gateway, m *metrics.SchedulingMetrics, logger *logging.Logger, opts ScheduleOptions) *ScheduleManager {
	if repo == nil {
		panic("doctors: repository required")
	}
	if gateway == nil {
		panic("doctors: calendar gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleManager{
		repo:    repo,
		gateway: gateway,
		metrics: m,
		logger:  logger.Component("doctors"),
		opts:    opts.withDefaults(),
	}
}

// RegenerationReport summarises a free-marker regeneration.
type RegenerationReport struct {
	Removed int `json:"removed"`
	Created int `json:"created"`
}

// SetAvailability persists the doctor's weekly hours and then rebuilds the
// free-marker blocks over the horizon: existing markers are deleted, new ones
// created per working interval. The rebuild is not atomic; a failure part
// way leaves a partially regenerated calendar and is reported as partial.
func (m *ScheduleManager) SetAvailability(ctx context.Context, doctorID string, hours availability.WorkingHours) (*RegenerationReport, error) {
	ctx, span := doctorsTracer.Start(ctx, "doctors.set_availability")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.doctor_id", doctorID))

	if err := hours.Validate(); err != nil {
		m.metrics.ObserveWorkflow("set_availability", string(apperrors.KindOf(err)))
		return nil, err
	}
	hours = hours.Normalize()
	doctor, err := m.loadDoctor(ctx, doctorID)
	if err != nil {
		m.metrics.ObserveWorkflow("set_availability", string(apperrors.KindOf(err)))
		return nil, err
	}

	if err := m.store(ctx, "update_hours", func(ctx context.Context) error {
		return m.repo.UpdateWorkingHours(ctx, doctorID, hours)
	}); err != nil {
		span.RecordError(err)
		m.metrics.ObserveWorkflow("set_availability", string(apperrors.KindOf(err)))
		m.logger.Error("working hours not saved", "doctor_id", doctorID, "error", err)
		return nil, err
	}

	report, err := m.regenerateFreeMarkers(ctx, doctor.ResourceID(), hours)
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveWorkflow("set_availability", "partial")
		m.logger.Error("free markers partially regenerated", "doctor_id", doctorID,
			"removed", report.Removed, "created", report.Created, "error", err)
		return report, apperrors.WrapPartial(apperrors.KindGateway, "doctors.regenerate_markers", err)
	}

	m.metrics.ObserveWorkflow("set_availability", "success")
	m.logger.Info("availability updated", "doctor_id", doctorID, "removed", report.Removed, "created", report.Created)
	return report, nil
}

func (m *ScheduleManager) regenerateFreeMarkers(ctx context.Context, resourceID string, hours availability.WorkingHours) (*RegenerationReport, error) {
	report := &RegenerationReport{}
	now := m.opts.Now().UTC()
	horizonEnd := now.Add(m.opts.Horizon)

	var existing []calendar.Event
	err := m.call(ctx, "list", func(ctx context.Context) error {
		var err error
		existing, err = m.gateway.ListEvents(ctx, resourceID, now, horizonEnd)
		return err
	})
	if err != nil {
		return report, err
	}

	for _, e := range existing {
		if !e.IsFreeMarker() {
			continue
		}
		err := m.call(ctx, "delete", func(ctx context.Context) error {
			return m.gateway.DeleteEvent(ctx, resourceID, e.ID)
		})
		if err != nil && !errors.Is(err, calendar.ErrEventNotFound) {
			return report, err
		}
		report.Removed++
	}

	for day := now.Truncate(24 * time.Hour); day.Before(horizonEnd); day = day.AddDate(0, 0, 1) {
		shift, ok := hours.IntervalOn(day)
		if !ok || !shift.End.After(now) || !shift.Start.Before(horizonEnd) {
			continue
		}
		err := m.call(ctx, "create", func(ctx context.Context) error {
			_, err := m.gateway.CreateEvent(ctx, resourceID, calendar.EventInput{
				Start: shift.Start,
				End:   shift.End,
				Title: calendar.FreeMarkerTitle,
				Busy:  false,
				Kind:  calendar.KindFreeMarker,
			})
			return err
		})
		if err != nil {
			return report, err
		}
		report.Created++
	}
	return report, nil
}

// GetAvailability returns the doctor's current weekly hours.
func (m *ScheduleManager) GetAvailability(ctx context.Context, doctorID string) (availability.WorkingHours, error) {
	doctor, err := m.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.WorkingHours == nil {
		return availability.WorkingHours{}, nil
	}
	return doctor.WorkingHours, nil
}

// CancellationPolicy returns the doctor's free-text cancellation policy.
func (m *ScheduleManager) CancellationPolicy(ctx context.Context, doctorID string) (string, error) {
	doctor, err := m.loadDoctor(ctx, doctorID)
	if err != nil {
		return "", err
	}
	return doctor.CancellationPolicy, nil
}

// BlockTimeSlot creates a busy event with no appointment record. The
// availability engine treats it like any other busy event.
func (m *ScheduleManager) BlockTimeSlot(ctx context.Context, doctorID string, interval availability.Interval, reason string) (string, error) {
	ctx, span := doctorsTracer.Start(ctx, "doctors.block_time_slot")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.doctor_id", doctorID))

	if !interval.Start.Before(interval.End) {
		m.metrics.ObserveWorkflow("block", string(apperrors.KindInvalidRange))
		return "", apperrors.New(apperrors.KindInvalidRange, "doctors.block", "block end must follow start")
	}
	doctor, err := m.loadDoctor(ctx, doctorID)
	if err != nil {
		m.metrics.ObserveWorkflow("block", string(apperrors.KindOf(err)))
		return "", err
	}

	var eventID string
	err = m.call(ctx, "create", func(ctx context.Context) error {
		var err error
		eventID, err = m.gateway.CreateEvent(ctx, doctor.ResourceID(), calendar.EventInput{
			Start:       interval.Start.UTC(),
			End:         interval.End.UTC(),
			Title:       calendar.BlockTitle,
			Description: strings.TrimSpace(reason),
			Busy:        true,
			Kind:        calendar.KindBlock,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveWorkflow("block", string(apperrors.KindGateway))
		m.logger.Error("block not created", "doctor_id", doctorID, "error", err)
		return "", apperrors.Wrap(apperrors.KindGateway, "doctors.block", err)
	}
	m.metrics.ObserveWorkflow("block", "success")
	m.logger.Info("time blocked", "doctor_id", doctorID, "event_id", eventID,
		"start", interval.Start.UTC(), "end", interval.End.UTC())
	return eventID, nil
}

// ScheduleEntry is one row of a doctor's calendar view.
type ScheduleEntry struct {
	EventID     string             `json:"id"`
	Kind        calendar.EventKind `json:"kind,omitempty"`
	Title       string             `json:"title"`
	PatientName string             `json:"patient_name,omitempty"`
	Start       time.Time          `json:"start_time"`
	End         time.Time          `json:"end_time"`
	Notes       string             `json:"notes,omitempty"`
}

// DailySchedule lists the busy entries of the UTC day containing date.
func (m *ScheduleManager) DailySchedule(ctx context.Context, doctorID string, date time.Time) ([]ScheduleEntry, error) {
	start := date.UTC().Truncate(24 * time.Hour)
	return m.schedule(ctx, doctorID, start, start.Add(24*time.Hour))
}

// WeeklySchedule lists the busy entries of the seven days from weekStart.
func (m *ScheduleManager) WeeklySchedule(ctx context.Context, doctorID string, weekStart time.Time) ([]ScheduleEntry, error) {
	start := weekStart.UTC().Truncate(24 * time.Hour)
	return m.schedule(ctx, doctorID, start, start.AddDate(0, 0, 7))
}

func (m *ScheduleManager) schedule(ctx context.Context, doctorID string, start, end time.Time) ([]ScheduleEntry, error) {
	doctor, err := m.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	var events []calendar.Event
	err = m.call(ctx, "list", func(ctx context.Context) error {
		var err error
		events, err = m.gateway.ListEvents(ctx, doctor.ResourceID(), start, end)
		return err
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindGateway, "doctors.schedule", err)
	}

	entries := make([]ScheduleEntry, 0, len(events))
	for _, e := range events {
		if e.IsFreeMarker() {
			continue
		}
		entry := ScheduleEntry{
			EventID: e.ID,
			Kind:    e.Kind,
			Title:   e.Title,
			Start:   e.Start,
			End:     e.End,
			Notes:   e.Description,
		}
		if strings.HasPrefix(e.Title, appointmentTitlePrefix) {
			entry.PatientName = strings.TrimPrefix(e.Title, appointmentTitlePrefix)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start.Before(entries[j].Start) })
	return entries, nil
}

func (m *ScheduleManager) loadDoctor(ctx context.Context, doctorID string) (*Doctor, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "doctors.load", "doctor id is required")
	}
	var doctor *Doctor
	err := m.store(ctx, "get", func(ctx context.Context) error {
		var err error
		doctor, err = m.repo.Get(ctx, doctorID)
		return err
	})
	return doctor, err
}

// call runs a gateway step under the gateway timeout.
func (m *ScheduleManager) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.GatewayTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	m.metrics.ObserveExternalCall("calendar", op, start, err)
	return err
}

// store runs a repository step under the store timeout. Errors without a
// kind are treated as persistence failures.
func (m *ScheduleManager) store(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	m.metrics.ObserveExternalCall("db", "doctors."+op, start, err)
	if err != nil && apperrors.KindOf(err) == apperrors.KindInternal {
		return apperrors.Wrap(apperrors.KindPersistence, "doctors."+op, err)
	}
	return err
}
