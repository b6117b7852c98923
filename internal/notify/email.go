package notify

import (
	"context"

	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

const defaultFromName = "Appointment Scheduler"

// Notification kinds, also used as provider tags.
const (
	KindBooked      = "booked"
	KindRescheduled = "rescheduled"
	KindCancelled   = "cancelled"
)

// EmailSender delivers one patient notification. SendGrid, SES and a
// logging stub are provided.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a patient email about one appointment. AppointmentID and
// Kind travel to the provider as tags so bounces and opens can be traced
// back to the booking.
type EmailMessage struct {
	To            string
	ToName        string
	Subject       string
	Body          string
	HTML          string
	AppointmentID string
	Kind          string
}

// tags lists the non-empty provider tags for the message.
func (m EmailMessage) tags() map[string]string {
	out := map[string]string{}
	if m.AppointmentID != "" {
		out["appointment_id"] = m.AppointmentID
	}
	if m.Kind != "" {
		out["notification"] = m.Kind
	}
	return out
}

// StubEmailSender logs instead of sending. Used when EMAIL_PROVIDER=none.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("appointment email not sent, no provider configured",
		"appointment_id", msg.AppointmentID, "notification", msg.Kind, "to", msg.To)
	return nil
}
