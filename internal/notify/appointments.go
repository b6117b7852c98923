package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-scheduler/internal/appointments"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

const timeLayout = "Monday, January 2, 2006 at 15:04 UTC"

// AppointmentNotifier emails patients about their appointments.
type AppointmentNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewAppointmentNotifier falls back to a stub sender when email is nil.
func NewAppointmentNotifier(email EmailSender, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &AppointmentNotifier{email: email, logger: logger.Component("notify")}
}

var _ appointments.Notifier = (*AppointmentNotifier)(nil)

func (n *AppointmentNotifier) AppointmentBooked(ctx context.Context, notice appointments.Notice) error {
	body := fmt.Sprintf("Your appointment with %s is confirmed for %s.\nAppointment ID: %s",
		doctorName(notice), notice.Appointment.ScheduledFor.UTC().Format(timeLayout), notice.Appointment.ID)
	return n.send(ctx, notice, KindBooked, "Appointment confirmed", body)
}

func (n *AppointmentNotifier) AppointmentRescheduled(ctx context.Context, notice appointments.Notice) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Your appointment with %s has been moved", doctorName(notice))
	if !notice.Previous.IsZero() {
		fmt.Fprintf(&b, " from %s", notice.Previous.UTC().Format(timeLayout))
	}
	fmt.Fprintf(&b, " to %s.\nAppointment ID: %s", notice.Appointment.ScheduledFor.UTC().Format(timeLayout), notice.Appointment.ID)
	return n.send(ctx, notice, KindRescheduled, "Appointment rescheduled", b.String())
}

func (n *AppointmentNotifier) AppointmentCancelled(ctx context.Context, notice appointments.Notice) error {
	body := fmt.Sprintf("Your appointment with %s on %s has been cancelled.",
		doctorName(notice), notice.Appointment.ScheduledFor.UTC().Format(timeLayout))
	if notice.Doctor != nil && notice.Doctor.CancellationPolicy != "" {
		body += "\n\nCancellation policy: " + notice.Doctor.CancellationPolicy
	}
	return n.send(ctx, notice, KindCancelled, "Appointment cancelled", body)
}

func (n *AppointmentNotifier) send(ctx context.Context, notice appointments.Notice, kind, subject, body string) error {
	if notice.Patient == nil || strings.TrimSpace(notice.Patient.Email) == "" {
		n.logger.Debug("patient has no email, skipping notification", "appointment_id", notice.Appointment.ID)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return n.email.Send(ctx, EmailMessage{
		To:            notice.Patient.Email,
		ToName:        notice.Patient.Name,
		Subject:       subject,
		Body:          fmt.Sprintf("Hello %s,\n\n%s\n", notice.Patient.Name, body),
		AppointmentID: notice.Appointment.ID,
		Kind:          kind,
	})
}

func doctorName(notice appointments.Notice) string {
	if notice.Doctor == nil || notice.Doctor.Name == "" {
		return "your doctor"
	}
	return notice.Doctor.Name
}
