package appointments

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/calendar"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
	"github.com/wolfman30/appointment-scheduler/internal/observability/metrics"
	"github.com/wolfman30/appointment-scheduler/internal/patients"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

var appointmentsTracer = otel.Tracer("scheduler.internal.appointments")

// Notice is what a Notifier gets after a workflow commits.
type Notice struct {
	Appointment *Appointment
	Patient     *patients.Patient
	Doctor      *doctors.Doctor
	// Previous is the old start of a rescheduled appointment.
	Previous time.Time
}

// Notifier tells the patient about a committed change. Failures are logged
// and never fail the workflow.
type Notifier interface {
	AppointmentBooked(ctx context.Context, n Notice) error
	AppointmentRescheduled(ctx context.Context, n Notice) error
	AppointmentCancelled(ctx context.Context, n Notice) error
}

// Options tunes the workflows.
type Options struct {
	SlotDuration   time.Duration
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
	// MaxWindow caps the span of a single free-slot query.
	MaxWindow time.Duration
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SlotDuration <= 0 {
		o.SlotDuration = 30 * time.Minute
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MaxWindow <= 0 || o.MaxWindow > availability.MaxWindow {
		o.MaxWindow = 31 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps groups the collaborators of a Service. Locker and Notifier are optional.
type Deps struct {
	Appointments Repository
	Doctors      doctors.Repository
	Patients     patients.Repository
	Calendar     calendar.Gateway
	Locker       SlotLocker
	Notifier     Notifier
	Metrics      *metrics.SchedulingMetrics
	Logger       *logging.Logger
}

// Service runs the booking, reschedule and cancellation workflows. Steps of
// one workflow run strictly in order: validate, remote write, local write.
type Service struct {
	repo     Repository
	doctors  doctors.Repository
	patients patients.Repository
	gateway  calendar.Gateway
	locker   SlotLocker
	notifier Notifier
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
	opts     Options
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Appointments == nil || deps.Doctors == nil || deps.Patients == nil {
		panic("appointments: repositories required")
	}
	if deps.Calendar == nil {
		panic("appointments: calendar gateway required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:     deps.Appointments,
		doctors:  deps.Doctors,
		patients: deps.Patients,
		gateway:  deps.Calendar,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logger.Component("appointments"),
		opts:     opts.withDefaults(),
	}
}

// SlotDuration is the fixed length of every appointment.
func (s *Service) SlotDuration() time.Duration {
	return s.opts.SlotDuration
}

// FreeSlots lists the doctor's free slots in [windowStart, windowEnd] from a
// fresh calendar read. The sequence is lazy over the events read once here.
func (s *Service) FreeSlots(ctx context.Context, doctorID string, windowStart, windowEnd time.Time) (iter.Seq[availability.Slot], error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.find_slots")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.doctor_id", doctorID))

	if windowEnd.Before(windowStart) {
		return nil, apperrors.New(apperrors.KindInvalidRange, "appointments.find_slots", "end date must not be before start date")
	}
	if windowEnd.Sub(windowStart) > s.opts.MaxWindow {
		return nil, apperrors.New(apperrors.KindInvalidRange, "appointments.find_slots",
			"date range may span at most %d days", int(s.opts.MaxWindow/(24*time.Hour)))
	}
	doctor, err := s.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	events, err := s.listEvents(ctx, doctor.ResourceID(), windowStart, windowEnd)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(apperrors.KindGateway, "appointments.find_slots", err)
	}
	return availability.ListFreeSlots(doctor.WorkingHours, calendar.BusyIntervals(events), windowStart, windowEnd, s.opts.SlotDuration)
}

// FindAvailableSlots is FreeSlots collected into a slice.
func (s *Service) FindAvailableSlots(ctx context.Context, doctorID string, windowStart, windowEnd time.Time) ([]availability.Slot, error) {
	seq, err := s.FreeSlots(ctx, doctorID, windowStart, windowEnd)
	if err != nil {
		s.metrics.ObserveWorkflow("find_slots", string(apperrors.KindOf(err)))
		return nil, err
	}
	slots := []availability.Slot{}
	for slot := range seq {
		slots = append(slots, slot)
	}
	s.metrics.ObserveWorkflow("find_slots", "success")
	s.metrics.AddSlotsListed(len(slots))
	return slots, nil
}

// Book reserves slotStart for the patient with the doctor.
//
// A gateway failure right after a successful validation may be a lost race;
// callers can re-query availability and retry once. A record failure after the
// event was created leaves an orphan event and is reported as partial.
func (s *Service) Book(ctx context.Context, patientID, doctorID string, slotStart time.Time) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduler.doctor_id", doctorID),
		attribute.String("scheduler.patient_id", patientID),
	)

	appt, err := s.book(ctx, span, patientID, doctorID, slotStart.UTC())
	s.finish("book", err)
	return appt, err
}

func (s *Service) book(ctx context.Context, span trace.Span, patientID, doctorID string, slotStart time.Time) (*Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.book", "patient id is required")
	}
	if slotStart.IsZero() {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.book", "slot start is required")
	}
	doctor, err := s.loadDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	slot := availability.Slot{Start: slotStart, Duration: s.opts.SlotDuration}
	release, err := s.lock(ctx, doctor.ID, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validateSlot(ctx, doctor, slot, ""); err != nil {
		return nil, err
	}

	var eventID string
	err = s.call(ctx, "create", func(ctx context.Context) error {
		var err error
		eventID, err = s.gateway.CreateEvent(ctx, doctor.ResourceID(), calendar.EventInput{
			Start:       slot.Start,
			End:         slot.End(),
			Title:       "Appointment with " + patient.Name,
			Description: fmt.Sprintf("Patient: %s\nPhone: %s", patient.Name, patient.Phone),
			Busy:        true,
			Kind:        calendar.KindAppointment,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("calendar event not created, slot may have been taken concurrently",
			"doctor_id", doctor.ID, "slot_start", slotStart, "error", err)
		return nil, apperrors.Wrap(apperrors.KindGateway, "appointments.book", err)
	}

	now := s.opts.Now().UTC()
	appt := &Appointment{
		ID:           uuid.NewString(),
		PatientID:    patient.ID,
		DoctorID:     doctor.ID,
		EventID:      eventID,
		ScheduledFor: slotStart,
		Duration:     s.opts.SlotDuration,
		Status:       StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store(ctx, "create", func(ctx context.Context) error { return s.repo.Create(ctx, appt) }); err != nil {
		span.RecordError(err)
		s.logger.Error("orphan calendar event", "doctor_id", doctor.ID, "event_id", eventID,
			"slot_start", slotStart, "error", err)
		return nil, apperrors.WrapPartial(apperrors.KindPersistence, "appointments.book", err)
	}

	s.logger.Info("appointment booked", "doctor_id", doctor.ID, "appointment_id", appt.ID, "event_id", eventID)
	s.notify(ctx, "booked", Notice{Appointment: appt, Patient: patient, Doctor: doctor})
	return appt, nil
}

// Reschedule moves a scheduled appointment to newStart. The appointment's own
// event is excluded from the busy set, so moving within its current time is
// allowed.
func (s *Service) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.appointment_id", appointmentID))

	appt, err := s.reschedule(ctx, span, appointmentID, newStart.UTC())
	s.finish("reschedule", err)
	return appt, err
}

func (s *Service) reschedule(ctx context.Context, span trace.Span, appointmentID string, newStart time.Time) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.reschedule", "new slot start is required")
	}
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.IsCancelled() {
		return nil, apperrors.New(apperrors.KindNotFound, "appointments.reschedule", "appointment %s is cancelled", appointmentID)
	}
	doctor, err := s.loadDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	duration := appt.Duration
	if duration <= 0 {
		duration = s.opts.SlotDuration
	}
	slot := availability.Slot{Start: newStart, Duration: duration}
	release, err := s.lock(ctx, doctor.ID, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validateSlot(ctx, doctor, slot, appt.EventID); err != nil {
		return nil, err
	}

	err = s.call(ctx, "update", func(ctx context.Context) error {
		return s.gateway.UpdateEvent(ctx, doctor.ResourceID(), appt.EventID, slot.Start, slot.End())
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("calendar event not moved", "appointment_id", appt.ID, "event_id", appt.EventID, "error", err)
		return nil, apperrors.Wrap(apperrors.KindGateway, "appointments.reschedule", err)
	}

	previous := appt.ScheduledFor
	if err := s.store(ctx, "update_schedule", func(ctx context.Context) error {
		return s.repo.UpdateSchedule(ctx, appt.ID, slot.Start, duration)
	}); err != nil {
		span.RecordError(err)
		s.logger.Error("calendar event moved but record not updated", "appointment_id", appt.ID,
			"event_id", appt.EventID, "new_start", slot.Start, "error", err)
		return nil, apperrors.WrapPartial(apperrors.KindPersistence, "appointments.reschedule", err)
	}

	appt.ScheduledFor = slot.Start
	appt.Duration = duration
	appt.UpdatedAt = s.opts.Now().UTC()
	s.logger.Info("appointment rescheduled", "doctor_id", doctor.ID, "appointment_id", appt.ID, "event_id", appt.EventID)
	s.notifyPatient(ctx, "rescheduled", appt, doctor, previous)
	return appt, nil
}

// Cancel marks the appointment cancelled and removes its calendar event. The
// record is cancelled even when the remote delete fails; that case returns the
// appointment together with a partial-cancellation error.
func (s *Service) Cancel(ctx context.Context, appointmentID string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.appointment_id", appointmentID))

	appt, err := s.cancel(ctx, span, appointmentID)
	s.finish("cancel", err)
	return appt, err
}

func (s *Service) cancel(ctx context.Context, span trace.Span, appointmentID string) (*Appointment, error) {
	appt, err := s.loadAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.IsCancelled() {
		return appt, nil
	}
	doctor, err := s.loadDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	var remoteErr error
	if appt.EventID != "" {
		remoteErr = s.call(ctx, "delete", func(ctx context.Context) error {
			return s.gateway.DeleteEvent(ctx, doctor.ResourceID(), appt.EventID)
		})
		if errors.Is(remoteErr, calendar.ErrEventNotFound) {
			remoteErr = nil
		}
	}

	now := s.opts.Now().UTC()
	if err := s.store(ctx, "cancel", func(ctx context.Context) error {
		return s.repo.MarkCancelled(ctx, appt.ID, now)
	}); err != nil {
		span.RecordError(err)
		if remoteErr == nil && appt.EventID != "" {
			s.logger.Error("calendar event deleted but record not cancelled", "appointment_id", appt.ID,
				"event_id", appt.EventID, "error", err)
			return nil, apperrors.WrapPartial(apperrors.KindPersistence, "appointments.cancel", err)
		}
		return nil, err
	}
	appt.Status = StatusCancelled
	appt.CancelledAt = &now
	appt.UpdatedAt = now

	if remoteErr != nil {
		span.RecordError(remoteErr)
		s.logger.Warn("appointment cancelled but calendar event may remain", "appointment_id", appt.ID,
			"event_id", appt.EventID, "error", remoteErr)
		s.notifyPatient(ctx, "cancelled", appt, doctor, time.Time{})
		return appt, &apperrors.Error{
			Kind:    apperrors.KindPartialCancellation,
			Op:      "appointments.cancel",
			Partial: true,
			Err:     remoteErr,
		}
	}

	s.logger.Info("appointment cancelled", "doctor_id", doctor.ID, "appointment_id", appt.ID, "event_id", appt.EventID)
	s.notifyPatient(ctx, "cancelled", appt, doctor, time.Time{})
	return appt, nil
}

// CancellationHistory lists the patient's cancelled appointments, latest
// appointment time first, each with its doctor's name.
func (s *Service) CancellationHistory(ctx context.Context, patientID string) ([]*Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.history", "patient id is required")
	}
	var history []*Appointment
	err := s.store(ctx, "list_cancelled", func(ctx context.Context) error {
		var err error
		history, err = s.repo.ListCancelledByPatient(ctx, patientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.attachDoctorNames(ctx, history)
	return history, nil
}

// attachDoctorNames fills DoctorName, one lookup per distinct doctor. A
// doctor that cannot be loaded leaves the name empty.
func (s *Service) attachDoctorNames(ctx context.Context, history []*Appointment) {
	names := map[string]string{}
	for _, appt := range history {
		name, ok := names[appt.DoctorID]
		if !ok {
			var doctor *doctors.Doctor
			err := s.store(ctx, "get_doctor", func(ctx context.Context) error {
				var err error
				doctor, err = s.doctors.Get(ctx, appt.DoctorID)
				return err
			})
			if err != nil {
				s.logger.Warn("doctor name unavailable for history", "doctor_id", appt.DoctorID, "error", err)
			} else {
				name = doctor.Name
			}
			names[appt.DoctorID] = name
		}
		appt.DoctorName = name
	}
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, appointmentID string) (*Appointment, error) {
	return s.loadAppointment(ctx, appointmentID)
}

// validateSlot reads busy events around the slot and checks it is free,
// ignoring excludeEventID.
func (s *Service) validateSlot(ctx context.Context, doctor *doctors.Doctor, slot availability.Slot, excludeEventID string) error {
	padding := slot.Duration
	events, err := s.listEvents(ctx, doctor.ResourceID(), slot.Start.Add(-padding), slot.End().Add(padding))
	if err != nil {
		return apperrors.Wrap(apperrors.KindGateway, "appointments.validate", err)
	}
	if !availability.IsSlotFree(slot, calendar.BusyIntervals(events, excludeEventID)) {
		s.logger.Warn("slot unavailable", "doctor_id", doctor.ID, "slot_start", slot.Start)
		return apperrors.New(apperrors.KindSlotUnavailable, "appointments.validate",
			"slot %s is no longer available", slot.Start.Format(time.RFC3339))
	}
	return nil
}

// lock takes the advisory lock on every grid bucket the slot touches, so two
// overlapping slots contend even when their starts differ.
func (s *Service) lock(ctx context.Context, doctorID string, slot availability.Slot) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	var held []func(context.Context)
	releaseAll := func() {
		if len(held) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
		defer cancel()
		for _, release := range held {
			release(ctx)
		}
	}
	for _, bucket := range lockBuckets(slot, s.opts.SlotDuration) {
		release, err := s.locker.Acquire(ctx, doctorID, bucket)
		if errors.Is(err, ErrLockHeld) {
			releaseAll()
			s.metrics.IncLockContention()
			s.logger.Warn("slot lock held by another request", "doctor_id", doctorID,
				"slot_start", slot.Start, "bucket", bucket)
			return nil, apperrors.New(apperrors.KindSlotUnavailable, "appointments.lock",
				"slot %s is being booked by another request", slot.Start.Format(time.RFC3339))
		}
		if err != nil {
			// The lock is advisory; carry on without it.
			releaseAll()
			s.logger.Warn("slot lock unavailable", "doctor_id", doctorID, "error", err)
			return func() {}, nil
		}
		held = append(held, release)
	}
	return releaseAll, nil
}

// lockBuckets lists the grid-aligned starts covering [slot.Start, slot.End()).
func lockBuckets(slot availability.Slot, grid time.Duration) []time.Time {
	start := slot.Start.UTC()
	if grid <= 0 || slot.Duration <= 0 {
		return []time.Time{start}
	}
	end := slot.End().UTC()
	var out []time.Time
	for b := start.Truncate(grid); b.Before(end); b = b.Add(grid) {
		out = append(out, b)
	}
	return out
}

func (s *Service) listEvents(ctx context.Context, resourceID string, start, end time.Time) ([]calendar.Event, error) {
	var events []calendar.Event
	err := s.call(ctx, "list", func(ctx context.Context) error {
		var err error
		events, err = s.gateway.ListEvents(ctx, resourceID, start, end)
		return err
	})
	return events, err
}

func (s *Service) loadDoctor(ctx context.Context, doctorID string) (*doctors.Doctor, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.load_doctor", "doctor id is required")
	}
	var doctor *doctors.Doctor
	err := s.store(ctx, "get_doctor", func(ctx context.Context) error {
		var err error
		doctor, err = s.doctors.Get(ctx, doctorID)
		return err
	})
	return doctor, err
}

func (s *Service) loadPatient(ctx context.Context, patientID string) (*patients.Patient, error) {
	var patient *patients.Patient
	err := s.store(ctx, "get_patient", func(ctx context.Context) error {
		var err error
		patient, err = s.patients.Get(ctx, patientID)
		return err
	})
	return patient, err
}

func (s *Service) loadAppointment(ctx context.Context, appointmentID string) (*Appointment, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, "appointments.load", "appointment id is required")
	}
	var appt *Appointment
	err := s.store(ctx, "get", func(ctx context.Context) error {
		var err error
		appt, err = s.repo.Get(ctx, appointmentID)
		return err
	})
	return appt, err
}

// call runs a calendar step under the gateway timeout.
func (s *Service) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveExternalCall("calendar", op, start, err)
	return err
}

// store runs a repository step under the store timeout.
func (s *Service) store(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveExternalCall("db", op, start, err)
	if err != nil && apperrors.KindOf(err) == apperrors.KindInternal {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments."+op, err)
	}
	return err
}

func (s *Service) finish(workflow string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveWorkflow(workflow, "success")
	case apperrors.IsPartial(err):
		s.metrics.ObserveWorkflow(workflow, "partial")
	default:
		s.metrics.ObserveWorkflow(workflow, string(apperrors.KindOf(err)))
	}
}

func (s *Service) notifyPatient(ctx context.Context, what string, appt *Appointment, doctor *doctors.Doctor, previous time.Time) {
	if s.notifier == nil {
		return
	}
	patient, err := s.loadPatient(ctx, appt.PatientID)
	if err != nil {
		s.logger.Warn("patient notification skipped", "appointment_id", appt.ID, "error", err)
		return
	}
	s.notify(ctx, what, Notice{Appointment: appt, Patient: patient, Doctor: doctor, Previous: previous})
}

func (s *Service) notify(ctx context.Context, what string, n Notice) {
	if s.notifier == nil {
		return
	}
	var err error
	switch what {
	case "booked":
		err = s.notifier.AppointmentBooked(ctx, n)
	case "rescheduled":
		err = s.notifier.AppointmentRescheduled(ctx, n)
	case "cancelled":
		err = s.notifier.AppointmentCancelled(ctx, n)
	}
	if err != nil {
		s.logger.Warn("patient notification failed", "appointment_id", n.Appointment.ID, "kind", what, "error", err)
	}
}
