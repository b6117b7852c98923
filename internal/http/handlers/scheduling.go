package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/scheduling"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

// Scheduler is the scheduling core as seen by the HTTP layer.
type Scheduler interface {
	FindAvailableSlots(ctx context.Context, doctorID string, windowStart, windowEnd time.Time) scheduling.Result
	BookAppointment(ctx context.Context, patientID, doctorID string, slotStart time.Time) scheduling.Result
	RescheduleAppointment(ctx context.Context, appointmentID string, newSlotStart time.Time) scheduling.Result
	CancelAppointment(ctx context.Context, appointmentID string) scheduling.Result
	CancellationHistory(ctx context.Context, patientID string) scheduling.Result
	SetAvailability(ctx context.Context, doctorID string, hours availability.WorkingHours) scheduling.Result
	GetAvailability(ctx context.Context, doctorID string) scheduling.Result
	BlockTimeSlot(ctx context.Context, doctorID string, start, end time.Time, reason string) scheduling.Result
	DailySchedule(ctx context.Context, doctorID string, date time.Time) scheduling.Result
	WeeklySchedule(ctx context.Context, doctorID string, weekStart time.Time) scheduling.Result
	CancellationPolicy(ctx context.Context, doctorID string) scheduling.Result
	DoctorLogin(ctx context.Context, email, password string) scheduling.Result
}

// SchedulingHandler exposes patient booking and doctor administration routes.
type SchedulingHandler struct {
	core   Scheduler
	logger *logging.Logger
	now    func() time.Time
}

// NewSchedulingHandler creates a new scheduling handler.
func NewSchedulingHandler(core Scheduler, logger *logging.Logger) *SchedulingHandler {
	if core == nil {
		panic("handlers: scheduler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{core: core, logger: logger.Component("handlers"), now: time.Now}
}

// BookRequest is the body of POST /patient/appointment/book.
type BookRequest struct {
	PatientID string    `json:"patient_id" validate:"required"`
	DoctorID  string    `json:"doctor_id" validate:"required"`
	SlotStart time.Time `json:"slot_start" validate:"required"`
}

// RescheduleRequest is the body of PUT /patient/appointment/{appointmentID}/reschedule.
type RescheduleRequest struct {
	NewSlotStart time.Time `json:"new_slot_start" validate:"required"`
}

// AvailabilityRequest is the body of POST /doctor/{doctorID}/availability.
type AvailabilityRequest struct {
	WorkingHours availability.WorkingHours `json:"working_hours" validate:"required"`
}

// BlockRequest is the body of POST /doctor/{doctorID}/blocks.
type BlockRequest struct {
	Start  time.Time `json:"start_time" validate:"required"`
	End    time.Time `json:"end_time" validate:"required"`
	Reason string    `json:"reason" validate:"max=500"`
}

// LoginRequest is the body of POST /doctor/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ListSlots handles GET /patient/slots/{doctorID}?start_date=&end_date=.
// A bare end date includes that whole day.
func (h *SchedulingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	start, _, err := parseInstant(r.URL.Query().Get("start_date"))
	if err != nil {
		writeInvalid(w, "start_date: "+err.Error())
		return
	}
	end, dateOnly, err := parseInstant(r.URL.Query().Get("end_date"))
	if err != nil {
		writeInvalid(w, "end_date: "+err.Error())
		return
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1)
	}
	writeResult(w, h.core.FindAvailableSlots(r.Context(), doctorID, start, end), http.StatusOK)
}

// BookAppointment handles POST /patient/appointment/book.
func (h *SchedulingHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	res := h.core.BookAppointment(r.Context(), strings.TrimSpace(req.PatientID), strings.TrimSpace(req.DoctorID), req.SlotStart.UTC())
	writeResult(w, res, http.StatusCreated)
}

// RescheduleAppointment handles PUT /patient/appointment/{appointmentID}/reschedule.
func (h *SchedulingHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	res := h.core.RescheduleAppointment(r.Context(), chi.URLParam(r, "appointmentID"), req.NewSlotStart.UTC())
	writeResult(w, res, http.StatusOK)
}

// CancelAppointment handles DELETE /patient/appointment/{appointmentID}.
func (h *SchedulingHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	res := h.core.CancelAppointment(r.Context(), chi.URLParam(r, "appointmentID"))
	if res.Success && res.Warning != "" {
		h.logger.Warn("cancellation needs reconciliation", "appointment_id", chi.URLParam(r, "appointmentID"))
	}
	writeResult(w, res, http.StatusOK)
}

// CancellationHistory handles GET /patient/{patientID}/cancellations.
func (h *SchedulingHandler) CancellationHistory(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.core.CancellationHistory(r.Context(), chi.URLParam(r, "patientID")), http.StatusOK)
}

// DoctorLogin handles POST /doctor/login.
func (h *SchedulingHandler) DoctorLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	writeResult(w, h.core.DoctorLogin(r.Context(), req.Email, req.Password), http.StatusOK)
}

// GetSchedule handles GET /doctor/{doctorID}/schedule. week_start selects the
// weekly view; otherwise date (default today, UTC) selects the daily view.
func (h *SchedulingHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	q := r.URL.Query()
	if ws := q.Get("week_start"); ws != "" {
		weekStart, err := parseDate(ws)
		if err != nil {
			writeInvalid(w, "week_start: "+err.Error())
			return
		}
		writeResult(w, h.core.WeeklySchedule(r.Context(), doctorID, weekStart), http.StatusOK)
		return
	}

	date := h.now().UTC().Truncate(24 * time.Hour)
	if d := q.Get("date"); d != "" {
		parsed, err := parseDate(d)
		if err != nil {
			writeInvalid(w, "date: "+err.Error())
			return
		}
		date = parsed
	}
	writeResult(w, h.core.DailySchedule(r.Context(), doctorID, date), http.StatusOK)
}

// GetAvailability handles GET /doctor/{doctorID}/availability.
func (h *SchedulingHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.core.GetAvailability(r.Context(), chi.URLParam(r, "doctorID")), http.StatusOK)
}

// SetAvailability handles POST /doctor/{doctorID}/availability.
func (h *SchedulingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	writeResult(w, h.core.SetAvailability(r.Context(), chi.URLParam(r, "doctorID"), req.WorkingHours), http.StatusOK)
}

// BlockTimeSlot handles POST /doctor/{doctorID}/blocks.
func (h *SchedulingHandler) BlockTimeSlot(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	res := h.core.BlockTimeSlot(r.Context(), chi.URLParam(r, "doctorID"), req.Start.UTC(), req.End.UTC(), req.Reason)
	writeResult(w, res, http.StatusCreated)
}

// CancellationPolicy handles GET /doctor/{doctorID}/cancellation-policy.
func (h *SchedulingHandler) CancellationPolicy(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.core.CancellationPolicy(r.Context(), chi.URLParam(r, "doctorID")), http.StatusOK)
}
