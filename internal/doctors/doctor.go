// Package doctors owns doctor profiles, their declared working hours and the
// calendar-side administration of their schedule.
package doctors

import (
	"github.com/wolfman30/appointment-scheduler/internal/availability"
)

// Doctor is a doctor profile.
type Doctor struct {
	ID                 string                    `json:"id"`
	Name               string                    `json:"name"`
	Email              string                    `json:"email"`
	Specialty          string                    `json:"specialty,omitempty"`
	CalendarID         string                    `json:"calendar_id,omitempty"`
	WorkingHours       availability.WorkingHours `json:"working_hours"`
	CancellationPolicy string                    `json:"cancellation_policy,omitempty"`
	PasswordHash       string                    `json:"-"`
}

// ResourceID is the calendar the doctor's events live in. Doctors without an
// explicit calendar id use their own id.
func (d *Doctor) ResourceID() string {
	if d.CalendarID != "" {
		return d.CalendarID
	}
	return d.ID
}
