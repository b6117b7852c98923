// Package scheduling is the edge of the scheduling core. Every operation
// returns a Result envelope; no error or panic crosses this boundary.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/appointments"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

// Core exposes the patient and doctor operations.
type Core struct {
	appointments *appointments.Service
	schedule     *doctors.ScheduleManager
	auth         *doctors.Authenticator
	logger       *logging.Logger
}

// NewCore wires the core. auth may be nil when doctor login is disabled.
func NewCore(appts *appointments.Service, schedule *doctors.ScheduleManager, auth *doctors.Authenticator, logger *logging.Logger) *Core {
	if appts == nil || schedule == nil {
		panic("scheduling: appointment service and schedule manager required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Core{appointments: appts, schedule: schedule, auth: auth, logger: logger.Component("scheduling")}
}

func (c *Core) FindAvailableSlots(ctx context.Context, doctorID string, windowStart, windowEnd time.Time) (res Result) {
	defer c.recoverInto(&res, "find_available_slots")
	slots, err := c.appointments.FindAvailableSlots(ctx, doctorID, windowStart, windowEnd)
	if err != nil {
		return c.failure("find_available_slots", err)
	}
	return Result{Success: true, Slots: slots}
}

func (c *Core) BookAppointment(ctx context.Context, patientID, doctorID string, slotStart time.Time) (res Result) {
	defer c.recoverInto(&res, "book_appointment")
	appt, err := c.appointments.Book(ctx, patientID, doctorID, slotStart)
	if err != nil {
		return c.failure("book_appointment", err)
	}
	res = ok("Appointment booked successfully")
	res.Appointment = appt
	return res
}

func (c *Core) RescheduleAppointment(ctx context.Context, appointmentID string, newSlotStart time.Time) (res Result) {
	defer c.recoverInto(&res, "reschedule_appointment")
	appt, err := c.appointments.Reschedule(ctx, appointmentID, newSlotStart)
	if err != nil {
		return c.failure("reschedule_appointment", err)
	}
	res = ok("Appointment rescheduled successfully")
	res.Appointment = appt
	return res
}

// CancelAppointment reports a cancellation whose remote delete failed as a
// success carrying a warning.
func (c *Core) CancelAppointment(ctx context.Context, appointmentID string) (res Result) {
	defer c.recoverInto(&res, "cancel_appointment")
	appt, err := c.appointments.Cancel(ctx, appointmentID)
	if errors.Is(err, apperrors.ErrPartialCancellation) {
		res = ok("Appointment cancelled")
		res.Warning = "The appointment was cancelled but the calendar event could not be removed; it will need manual cleanup"
		res.Kind = apperrors.KindPartialCancellation
		res.Appointment = appt
		return res
	}
	if err != nil {
		return c.failure("cancel_appointment", err)
	}
	res = ok("Appointment cancelled successfully")
	res.Appointment = appt
	return res
}

func (c *Core) SetAvailability(ctx context.Context, doctorID string, hours availability.WorkingHours) (res Result) {
	defer c.recoverInto(&res, "set_availability")
	report, err := c.schedule.SetAvailability(ctx, doctorID, hours)
	if err != nil {
		res = c.failure("set_availability", err)
		res.Regenerated = report
		return res
	}
	res = ok("Availability updated successfully")
	res.Regenerated = report
	return res
}

func (c *Core) BlockTimeSlot(ctx context.Context, doctorID string, start, end time.Time, reason string) (res Result) {
	defer c.recoverInto(&res, "block_time_slot")
	eventID, err := c.schedule.BlockTimeSlot(ctx, doctorID, availability.Interval{Start: start, End: end}, reason)
	if err != nil {
		return c.failure("block_time_slot", err)
	}
	res = ok("Time slot blocked successfully")
	res.EventID = eventID
	return res
}

func (c *Core) GetAvailability(ctx context.Context, doctorID string) (res Result) {
	defer c.recoverInto(&res, "get_availability")
	hours, err := c.schedule.GetAvailability(ctx, doctorID)
	if err != nil {
		return c.failure("get_availability", err)
	}
	return Result{Success: true, Availability: hours}
}

func (c *Core) DailySchedule(ctx context.Context, doctorID string, date time.Time) (res Result) {
	defer c.recoverInto(&res, "daily_schedule")
	entries, err := c.schedule.DailySchedule(ctx, doctorID, date)
	if err != nil {
		return c.failure("daily_schedule", err)
	}
	return Result{Success: true, Schedule: entries}
}

func (c *Core) WeeklySchedule(ctx context.Context, doctorID string, weekStart time.Time) (res Result) {
	defer c.recoverInto(&res, "weekly_schedule")
	entries, err := c.schedule.WeeklySchedule(ctx, doctorID, weekStart)
	if err != nil {
		return c.failure("weekly_schedule", err)
	}
	return Result{Success: true, Schedule: entries}
}

func (c *Core) CancellationHistory(ctx context.Context, patientID string) (res Result) {
	defer c.recoverInto(&res, "cancellation_history")
	history, err := c.appointments.CancellationHistory(ctx, patientID)
	if err != nil {
		return c.failure("cancellation_history", err)
	}
	return Result{Success: true, History: history}
}

func (c *Core) CancellationPolicy(ctx context.Context, doctorID string) (res Result) {
	defer c.recoverInto(&res, "cancellation_policy")
	policy, err := c.schedule.CancellationPolicy(ctx, doctorID)
	if err != nil {
		return c.failure("cancellation_policy", err)
	}
	return Result{Success: true, Policy: &policy}
}

func (c *Core) DoctorLogin(ctx context.Context, email, password string) (res Result) {
	defer c.recoverInto(&res, "doctor_login")
	if c.auth == nil {
		return c.failure("doctor_login", apperrors.New(apperrors.KindUnauthorized, "scheduling.login", "doctor login disabled"))
	}
	session, err := c.auth.Login(ctx, email, password)
	if err != nil {
		return c.failure("doctor_login", err)
	}
	res = ok("Login successful")
	res.Session = session
	return res
}

func (c *Core) failure(op string, err error) Result {
	kind := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindGateway, apperrors.KindPersistence, apperrors.KindInternal:
		c.logger.Error("operation failed", "op", op, "kind", kind, "partial", apperrors.IsPartial(err), "error", err)
	default:
		c.logger.Debug("operation rejected", "op", op, "kind", kind, "error", err)
	}
	return Result{Success: false, Kind: kind, Message: messageFor(kind, err)}
}

func (c *Core) recoverInto(res *Result, op string) {
	if r := recover(); r != nil {
		c.logger.Error("panic in scheduling operation", "op", op, "panic", fmt.Sprint(r))
		*res = Result{Success: false, Kind: apperrors.KindInternal, Message: "An unexpected error occurred"}
	}
}

func messageFor(kind apperrors.Kind, err error) string {
	switch kind {
	case apperrors.KindSlotUnavailable:
		return "Selected time slot is no longer available"
	case apperrors.KindGateway:
		if apperrors.IsPartial(err) {
			return "Calendar was only partially updated; please retry"
		}
		return "Calendar service is unavailable; please try again"
	case apperrors.KindPersistence:
		if apperrors.IsPartial(err) {
			return "The calendar was updated but the appointment record could not be saved; support has been alerted"
		}
		return "Could not reach the appointment store; please try again"
	case apperrors.KindInvalidRange, apperrors.KindInvalidInput, apperrors.KindNotFound, apperrors.KindUnauthorized:
		return detail(err)
	default:
		return "An unexpected error occurred"
	}
}

// detail returns the innermost cause of an apperrors chain.
func detail(err error) string {
	var e *apperrors.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	for {
		var inner *apperrors.Error
		if e.Err == nil {
			return string(e.Kind)
		}
		if !errors.As(e.Err, &inner) {
			return e.Err.Error()
		}
		e = inner
	}
}
