package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
	"github.com/wolfman30/appointment-scheduler/internal/calendar"
	"github.com/wolfman30/appointment-scheduler/internal/doctors"
	"github.com/wolfman30/appointment-scheduler/internal/patients"
)

// 2024-01-15 is a Monday.
var monday = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixture struct {
	svc      *Service
	repo     *InMemoryRepository
	gateway  *calendar.MemoryGateway
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (n *recordingNotifier) record(kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *recordingNotifier) AppointmentBooked(ctx context.Context, _ Notice) error {
	return n.record("booked")
}

func (n *recordingNotifier) AppointmentRescheduled(ctx context.Context, _ Notice) error {
	return n.record("rescheduled")
}

func (n *recordingNotifier) AppointmentCancelled(ctx context.Context, _ Notice) error {
	return n.record("cancelled")
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func newFixture(t *testing.T, gw calendar.Gateway, opts ...func(*Deps)) *fixture {
	t.Helper()
	mem, _ := gw.(*calendar.MemoryGateway)
	repo := NewInMemoryRepository()
	notifier := &recordingNotifier{}
	deps := Deps{
		Appointments: repo,
		Doctors: doctors.NewInMemoryRepository(&doctors.Doctor{
			ID:           "d-1",
			Name:         "Dr. Grey",
			CalendarID:   "cal-1",
			WorkingHours: availability.WorkingHours{"monday": {Start: "09:00", End: "12:00"}},
		}),
		Patients: patients.NewInMemoryRepository(&patients.Patient{ID: "p-1", Name: "Ada Lovelace", Phone: "+15550001"},
			&patients.Patient{ID: "p-2", Name: "Grace Hopper"}),
		Calendar: gw,
		Notifier: notifier,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc := NewService(deps, Options{SlotDuration: 30 * time.Minute})
	return &fixture{svc: svc, repo: repo, gateway: mem, notifier: notifier}
}

func slotStarts(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestBook_CreatesEventAndRecord(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())

	appt, err := f.svc.Book(context.Background(), "p-1", "d-1", at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, 30*time.Minute, appt.Duration)

	ev, ok := f.gateway.Get("cal-1", appt.EventID)
	require.True(t, ok)
	assert.Equal(t, "Appointment with Ada Lovelace", ev.Title)
	assert.Contains(t, ev.Description, "+15550001")
	assert.True(t, ev.Busy)
	assert.Equal(t, at(10, 0), ev.End)

	stored, err := f.repo.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.EventID, stored.EventID)
	assert.Equal(t, []string{"booked"}, f.notifier.kinds())
}

func TestBook_ThenSlotNoLongerListed(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()

	before, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, before, 6)

	for _, slot := range before {
		_, err := f.svc.Book(ctx, "p-1", "d-1", slot.Start)
		require.NoError(t, err)

		after, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.Add(24*time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, slotStarts(after), slot.Start.Format("15:04"))
	}

	remaining, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestBook_SlotTaken(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	_, err := f.gateway.CreateEvent(ctx, "cal-1", calendar.EventInput{
		Start: at(10, 15), End: at(10, 45), Title: "External", Busy: true,
	})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, "p-1", "d-1", at(10, 0))
	assert.True(t, errors.Is(err, apperrors.ErrSlotUnavailable))
	assert.Equal(t, 1, f.gateway.Calls("create"))
	assert.Empty(t, f.repo.All())

	_, err = f.svc.Book(ctx, "p-1", "d-1", at(10, 45))
	require.NoError(t, err)
}

func TestBook_FreeMarkersDoNotBlock(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	_, err := f.gateway.CreateEvent(ctx, "cal-1", calendar.EventInput{
		Start: at(9, 0), End: at(12, 0), Title: calendar.FreeMarkerTitle, Kind: calendar.KindFreeMarker,
	})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
}

func TestBook_UnknownIDs(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()

	_, err := f.svc.Book(ctx, "p-1", "nobody", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = f.svc.Book(ctx, "ghost", "d-1", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = f.svc.Book(ctx, "", "d-1", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Zero(t, f.gateway.TotalCalls())
}

type brokenGateway struct {
	*calendar.MemoryGateway
	failCreate bool
	failUpdate bool
	failDelete bool
}

func (g *brokenGateway) CreateEvent(ctx context.Context, resourceID string, in calendar.EventInput) (string, error) {
	if g.failCreate {
		return "", errors.New("503 backend error")
	}
	return g.MemoryGateway.CreateEvent(ctx, resourceID, in)
}

func (g *brokenGateway) UpdateEvent(ctx context.Context, resourceID, eventID string, start, end time.Time) error {
	if g.failUpdate {
		return errors.New("503 backend error")
	}
	return g.MemoryGateway.UpdateEvent(ctx, resourceID, eventID, start, end)
}

func (g *brokenGateway) DeleteEvent(ctx context.Context, resourceID, eventID string) error {
	if g.failDelete {
		return errors.New("503 backend error")
	}
	return g.MemoryGateway.DeleteEvent(ctx, resourceID, eventID)
}

func TestBook_GatewayFailureLeavesNoRecord(t *testing.T) {
	gw := &brokenGateway{MemoryGateway: calendar.NewMemoryGateway(), failCreate: true}
	f := newFixture(t, gw)

	_, err := f.svc.Book(context.Background(), "p-1", "d-1", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
	assert.False(t, apperrors.IsPartial(err))
	assert.Empty(t, f.repo.All())
}

func TestBook_RecordFailureIsPartial(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	f.repo.FailCreate = true

	_, err := f.svc.Book(context.Background(), "p-1", "d-1", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
	assert.True(t, apperrors.IsPartial(err))
	assert.Equal(t, 1, f.gateway.Calls("create"))
	assert.Empty(t, f.notifier.kinds())
}

func TestBook_NotificationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	f.notifier.fail = true

	_, err := f.svc.Book(context.Background(), "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
}

func TestBook_ConcurrentSameSlotOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, calendar.NewMemoryGateway(calendar.WithConflictRejection()))
		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.Book(context.Background(), "p-1", "d-1", at(11, 0))
			}(i)
		}
		wg.Wait()

		scheduled := 0
		for _, appt := range f.repo.All() {
			if appt.Status == StatusScheduled && appt.ScheduledFor.Equal(at(11, 0)) {
				scheduled++
			}
		}
		assert.Equal(t, 1, scheduled)

		failures := 0
		for _, err := range errs {
			if err == nil {
				continue
			}
			failures++
			assert.True(t, errors.Is(err, apperrors.ErrSlotUnavailable) || errors.Is(err, apperrors.ErrGateway), err)
		}
		assert.Equal(t, 1, failures)
	}
}

func TestReschedule_MovesEventAndRecord(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(ctx, appt.ID, at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), moved.ScheduledFor)

	ev, _ := f.gateway.Get("cal-1", appt.EventID)
	assert.Equal(t, at(11, 0), ev.Start)
	stored, _ := f.repo.Get(ctx, appt.ID)
	assert.Equal(t, at(11, 0), stored.ScheduledFor)
	assert.Equal(t, []string{"booked", "rescheduled"}, f.notifier.kinds())
}

func TestReschedule_OverlappingOwnEventSucceeds(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway(calendar.WithConflictRejection()))
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(ctx, appt.ID, at(9, 15))
	require.NoError(t, err)
	assert.Equal(t, at(9, 15), moved.ScheduledFor)

	_, err = f.svc.Reschedule(ctx, appt.ID, at(9, 15))
	require.NoError(t, err)
}

func TestReschedule_SlotTakenByOther(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	first, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, "p-2", "d-1", at(10, 0))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, first.ID, at(10, 0))
	assert.True(t, errors.Is(err, apperrors.ErrSlotUnavailable))
	stored, _ := f.repo.Get(ctx, first.ID)
	assert.Equal(t, at(9, 0), stored.ScheduledFor)
}

func TestReschedule_GatewayFailureLeavesRecord(t *testing.T) {
	gw := &brokenGateway{MemoryGateway: calendar.NewMemoryGateway()}
	f := newFixture(t, gw)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	gw.failUpdate = true
	_, err = f.svc.Reschedule(ctx, appt.ID, at(11, 0))
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
	assert.False(t, apperrors.IsPartial(err))
	stored, _ := f.repo.Get(ctx, appt.ID)
	assert.Equal(t, at(9, 0), stored.ScheduledFor)
}

func TestReschedule_RecordFailureIsPartial(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	f.repo.FailUpdate = true
	_, err = f.svc.Reschedule(ctx, appt.ID, at(11, 0))
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
	assert.True(t, apperrors.IsPartial(err))
}

func TestReschedule_MissingOrCancelled(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()

	_, err := f.svc.Reschedule(ctx, "missing", at(11, 0))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, appt.ID, at(11, 0))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCancel_DeletesEventAndMarksRecord(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	_, ok := f.gateway.Get("cal-1", appt.EventID)
	assert.False(t, ok)

	slots, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, slots, 6)
}

func TestCancel_UnknownMakesNoGatewayCalls(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	_, err := f.svc.Cancel(context.Background(), "does-not-exist")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Zero(t, f.gateway.TotalCalls())
}

func TestCancel_EventAlreadyGone(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
	require.NoError(t, f.gateway.DeleteEvent(ctx, "cal-1", appt.EventID))

	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestCancel_Twice(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	deletes := f.gateway.Calls("delete")

	again, err := f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)
	assert.Equal(t, deletes, f.gateway.Calls("delete"))
}

func TestCancel_RemoteFailureStillCancelsRecord(t *testing.T) {
	gw := &brokenGateway{MemoryGateway: calendar.NewMemoryGateway()}
	f := newFixture(t, gw)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	gw.failDelete = true
	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPartialCancellation))
	require.NotNil(t, cancelled)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	stored, _ := f.repo.Get(ctx, appt.ID)
	assert.Equal(t, StatusCancelled, stored.Status)
	_, ok := gw.Get("cal-1", appt.EventID)
	assert.True(t, ok)
}

func TestCancellationHistory_LatestSlotFirst(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()
	clock := at(8, 0)
	f.svc.opts.Now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	first, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)
	second, err := f.svc.Book(ctx, "p-1", "d-1", at(10, 0))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, "p-1", "d-1", at(11, 0))
	require.NoError(t, err)

	// Cancelled in the opposite order to their slot times.
	_, err = f.svc.Cancel(ctx, second.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, first.ID)
	require.NoError(t, err)

	history, err := f.svc.CancellationHistory(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	for _, appt := range history {
		assert.Equal(t, "Dr. Grey", appt.DoctorName)
	}

	none, err := f.svc.CancellationHistory(ctx, "p-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindAvailableSlots_InvalidRange(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	_, err := f.svc.FindAvailableSlots(context.Background(), "d-1", at(12, 0), at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
	assert.Zero(t, f.gateway.TotalCalls())
}

func TestFindAvailableSlots_WindowTooLong(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	ctx := context.Background()

	_, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.AddDate(0, 0, 32))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
	assert.Zero(t, f.gateway.TotalCalls())

	_, err = f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.AddDate(100, 0, 0))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
	assert.Zero(t, f.gateway.TotalCalls())

	slots, err := f.svc.FindAvailableSlots(ctx, "d-1", monday, monday.AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Len(t, slots, 5*6)
}

func TestFindAvailableSlots_ConfiguredWindow(t *testing.T) {
	f := newFixture(t, calendar.NewMemoryGateway())
	f.svc.opts.MaxWindow = 7 * 24 * time.Hour

	_, err := f.svc.FindAvailableSlots(context.Background(), "d-1", monday, monday.AddDate(0, 0, 8))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
	assert.Zero(t, f.gateway.TotalCalls())
}

// hangingGateway never answers the selected writes; they return only when
// the caller's context expires.
type hangingGateway struct {
	*calendar.MemoryGateway
	hangCreate bool
	hangUpdate bool
	hangDelete bool
}

func (g *hangingGateway) CreateEvent(ctx context.Context, resourceID string, in calendar.EventInput) (string, error) {
	if g.hangCreate {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.MemoryGateway.CreateEvent(ctx, resourceID, in)
}

func (g *hangingGateway) UpdateEvent(ctx context.Context, resourceID, eventID string, start, end time.Time) error {
	if g.hangUpdate {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.MemoryGateway.UpdateEvent(ctx, resourceID, eventID, start, end)
}

func (g *hangingGateway) DeleteEvent(ctx context.Context, resourceID, eventID string) error {
	if g.hangDelete {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.MemoryGateway.DeleteEvent(ctx, resourceID, eventID)
}

func newHangingFixture(t *testing.T) (*fixture, *hangingGateway) {
	t.Helper()
	gw := &hangingGateway{MemoryGateway: calendar.NewMemoryGateway()}
	f := newFixture(t, gw)
	f.svc.opts.GatewayTimeout = 50 * time.Millisecond
	return f, gw
}

func TestBook_GatewayTimeoutLeavesNoRecord(t *testing.T) {
	f, gw := newHangingFixture(t)
	gw.hangCreate = true

	started := time.Now()
	_, err := f.svc.Book(context.Background(), "p-1", "d-1", at(9, 0))
	require.Error(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
	assert.False(t, apperrors.IsPartial(err))
	assert.Empty(t, f.repo.All())
	assert.Empty(t, f.notifier.kinds())
}

func TestReschedule_GatewayTimeoutLeavesRecord(t *testing.T) {
	f, gw := newHangingFixture(t)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	gw.hangUpdate = true
	_, err = f.svc.Reschedule(ctx, appt.ID, at(11, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
	assert.False(t, apperrors.IsPartial(err))

	stored, err := f.repo.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), stored.ScheduledFor)
	assert.Equal(t, StatusScheduled, stored.Status)
	ev, ok := gw.Get("cal-1", appt.EventID)
	require.True(t, ok)
	assert.Equal(t, at(9, 0), ev.Start)
}

func TestCancel_GatewayTimeoutStillCancelsRecord(t *testing.T) {
	f, gw := newHangingFixture(t)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	gw.hangDelete = true
	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPartialCancellation))
	require.NotNil(t, cancelled)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	stored, err := f.repo.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
}

func TestBook_LockContention(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Minute)
	f := newFixture(t, calendar.NewMemoryGateway(), func(d *Deps) { d.Locker = locker })
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "d-1", at(9, 0))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	assert.True(t, errors.Is(err, apperrors.ErrSlotUnavailable))
	assert.Zero(t, f.gateway.Calls("create"))

	release(ctx)
	_, err = f.svc.Book(ctx, "p-1", "d-1", at(9, 0))
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "d-1", at(9, 0))
	require.NoError(t, err, "booking releases its lock")
}

func TestBook_OffGridStartContendsWithOverlappingLock(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Minute)
	f := newFixture(t, calendar.NewMemoryGateway(), func(d *Deps) { d.Locker = locker })
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "d-1", at(10, 0))
	require.NoError(t, err)

	for _, start := range []time.Time{at(9, 45), at(10, 15)} {
		_, err = f.svc.Book(ctx, "p-1", "d-1", start)
		assert.True(t, errors.Is(err, apperrors.ErrSlotUnavailable), start.Format("15:04"))
	}
	assert.Zero(t, f.gateway.Calls("create"))

	// A failed attempt must not leave its other bucket locked.
	other, err := locker.Acquire(ctx, "d-1", at(9, 30))
	require.NoError(t, err)
	other(ctx)

	release(ctx)
	_, err = f.svc.Book(ctx, "p-1", "d-1", at(10, 15))
	require.NoError(t, err)
}

func TestLockBuckets(t *testing.T) {
	half := 30 * time.Minute
	tests := []struct {
		name string
		slot availability.Slot
		grid time.Duration
		want []time.Time
	}{
		{"on grid", availability.Slot{Start: at(10, 0), Duration: half}, half, []time.Time{at(10, 0)}},
		{"off grid", availability.Slot{Start: at(10, 15), Duration: half}, half, []time.Time{at(10, 0), at(10, 30)}},
		{"longer than grid", availability.Slot{Start: at(9, 0), Duration: time.Hour}, half, []time.Time{at(9, 0), at(9, 30)}},
		{"no grid", availability.Slot{Start: at(9, 10), Duration: half}, 0, []time.Time{at(9, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lockBuckets(tt.slot, tt.grid))
		})
	}
}
