// Package appointments runs the booking, reschedule and cancellation
// workflows that keep a doctor's remote calendar and the appointment records
// in step.
package appointments

import (
	"encoding/json"
	"time"
)

// Status of an appointment record. Records are never deleted.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

// Appointment links a patient, a doctor and the remote calendar event that
// holds the slot.
type Appointment struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patient_id"`
	DoctorID     string        `json:"doctor_id"`
	EventID      string        `json:"event_id"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	Duration     time.Duration `json:"-"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`

	// DoctorName is filled for cancellation history only; it is not stored.
	DoctorName string `json:"doctor_name,omitempty"`
}

// End is the end of the booked slot.
func (a *Appointment) End() time.Time {
	return a.ScheduledFor.Add(a.Duration)
}

// DurationMinutes is exposed alongside the record in JSON.
func (a *Appointment) DurationMinutes() int {
	return int(a.Duration / time.Minute)
}

// IsCancelled reports whether the appointment was cancelled.
func (a *Appointment) IsCancelled() bool {
	return a.Status == StatusCancelled
}

// MarshalJSON adds duration_minutes to the record.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type record Appointment
	return json.Marshal(struct {
		record
		DurationMinutes int `json:"duration_minutes"`
	}{record(a), a.DurationMinutes()})
}
