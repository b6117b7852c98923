package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-scheduler/internal/appointments"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
	"github.com/wolfman30/appointment-scheduler/internal/patients"
)

type captureSender struct {
	mu   sync.Mutex
	sent []EmailMessage
}

func (c *captureSender) Send(ctx context.Context, msg EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func notice(email string) appointments.Notice {
	return appointments.Notice{
		Appointment: &appointments.Appointment{
			ID:           "a-1",
			ScheduledFor: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
		},
		Patient: &patients.Patient{ID: "p-1", Name: "Ada", Email: email},
		Doctor:  &doctors.Doctor{ID: "d-1", Name: "Dr. Grey", CancellationPolicy: "24 hours notice"},
	}
}

func TestAppointmentNotifier_Messages(t *testing.T) {
	sender := &captureSender{}
	n := NewAppointmentNotifier(sender, nil)
	ctx := context.Background()

	require.NoError(t, n.AppointmentBooked(ctx, notice("ada@example.com")))
	moved := notice("ada@example.com")
	moved.Previous = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, n.AppointmentRescheduled(ctx, moved))
	require.NoError(t, n.AppointmentCancelled(ctx, notice("ada@example.com")))

	require.Len(t, sender.sent, 3)
	assert.Equal(t, "Appointment confirmed", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "Monday, January 15, 2024 at 09:30 UTC")
	assert.Contains(t, sender.sent[1].Body, "from Monday, January 15, 2024 at 09:00 UTC")
	assert.Contains(t, sender.sent[2].Body, "24 hours notice")
	assert.Equal(t, "ada@example.com", sender.sent[2].To)

	for i, kind := range []string{KindBooked, KindRescheduled, KindCancelled} {
		assert.Equal(t, kind, sender.sent[i].Kind)
		assert.Equal(t, "a-1", sender.sent[i].AppointmentID)
	}
}

func TestAppointmentNotifier_SkipsPatientsWithoutEmail(t *testing.T) {
	sender := &captureSender{}
	n := NewAppointmentNotifier(sender, nil)

	require.NoError(t, n.AppointmentBooked(context.Background(), notice("")))
	assert.Empty(t, sender.sent)
}
