package scheduling

import (
	"encoding/json"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/appointments"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
)

// Result is the uniform envelope returned by every Core operation. Only the
// payload fields an operation sets are serialised.
type Result struct {
	Success bool
	Message string
	// Warning accompanies a success that needs operator follow-up.
	Warning string
	// Kind is set on failures and partial successes for the transport layer.
	Kind apperrors.Kind

	Slots        []availability.Slot
	Appointment  *appointments.Appointment
	Availability availability.WorkingHours
	Schedule     []doctors.ScheduleEntry
	History      []*appointments.Appointment
	Policy       *string
	EventID      string
	Regenerated  *doctors.RegenerationReport
	Session      *doctors.Session
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"success": r.Success}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Warning != "" {
		out["warning"] = r.Warning
	}
	if r.Kind != "" {
		out["error_kind"] = r.Kind
	}
	if r.Slots != nil {
		out["slots"] = r.Slots
	}
	if r.Appointment != nil {
		out["appointment"] = r.Appointment
	}
	if r.Availability != nil {
		out["availability"] = r.Availability
	}
	if r.Schedule != nil {
		out["schedule"] = r.Schedule
	}
	if r.History != nil {
		out["history"] = r.History
	}
	if r.Policy != nil {
		out["policy"] = *r.Policy
	}
	if r.EventID != "" {
		out["event_id"] = r.EventID
	}
	if r.Regenerated != nil {
		out["free_markers"] = r.Regenerated
	}
	if r.Session != nil {
		out["token"] = r.Session.Token
		out["expires_at"] = r.Session.ExpiresAt.UTC().Format(time.RFC3339)
		out["doctor"] = r.Session.Doctor
	}
	return json.Marshal(out)
}

func ok(message string) Result {
	return Result{Success: true, Message: message}
}
