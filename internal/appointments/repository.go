package appointments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
)

// Repository is keyed CRUD over appointment records.
type Repository interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id string) (*Appointment, error)
	UpdateSchedule(ctx context.Context, id string, start time.Time, duration time.Duration) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	ListCancelledByPatient(ctx context.Context, patientID string) ([]*Appointment, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository persists appointments in the appointments table.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository accepts a *pgxpool.Pool or any compatible querier.
func NewPostgresRepository(db querier) *PostgresRepository {
	if db == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, event_id, scheduled_for, duration_minutes, status, created_at, updated_at, cancelled_at`

func (r *PostgresRepository) Create(ctx context.Context, appt *Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		appt.ID,
		appt.PatientID,
		appt.DoctorID,
		appt.EventID,
		appt.ScheduledFor.UTC(),
		appt.DurationMinutes(),
		string(appt.Status),
		appt.CreatedAt.UTC(),
		appt.UpdatedAt.UTC(),
		appt.CancelledAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.create", fmt.Errorf("appointments: insert: %w", err))
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.KindNotFound, "appointments.get", "appointment %s not found", id)
		}
		return nil, apperrors.Wrap(apperrors.KindPersistence, "appointments.get", fmt.Errorf("appointments: select: %w", err))
	}
	return appt, nil
}

func (r *PostgresRepository) UpdateSchedule(ctx context.Context, id string, start time.Time, duration time.Duration) error {
	query := `
		UPDATE appointments
		SET scheduled_for = $2, duration_minutes = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, start.UTC(), int(duration/time.Minute))
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.update_schedule", fmt.Errorf("appointments: update schedule: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindNotFound, "appointments.update_schedule", "appointment %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.cancel", fmt.Errorf("appointments: mark cancelled: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindNotFound, "appointments.cancel", "appointment %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) ListCancelledByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE patient_id = $1 AND status = 'cancelled' ORDER BY scheduled_for DESC, id`
	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "appointments.list_cancelled", fmt.Errorf("appointments: list cancelled: %w", err))
	}
	defer rows.Close()

	out := []*Appointment{}
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindPersistence, "appointments.list_cancelled", fmt.Errorf("appointments: scan: %w", err))
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "appointments.list_cancelled", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (*Appointment, error) {
	var (
		a       Appointment
		minutes int
		status  string
	)
	if err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.EventID,
		&a.ScheduledFor,
		&minutes,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CancelledAt,
	); err != nil {
		return nil, err
	}
	a.Duration = time.Duration(minutes) * time.Minute
	a.Status = Status(status)
	a.ScheduledFor = a.ScheduledFor.UTC()
	return &a, nil
}

// InMemoryRepository keeps appointments in a map.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Appointment
	// FailCreate, FailUpdate and FailCancel inject persistence errors.
	FailCreate bool
	FailUpdate bool
	FailCancel bool
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*Appointment)}
}

var errStoreDown = errors.New("store unavailable")

func (r *InMemoryRepository) Create(ctx context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.create", errStoreDown)
	}
	cp := *appt
	r.items[appt.ID] = &cp
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	appt, ok := r.items[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "appointments.get", "appointment %s not found", id)
	}
	cp := *appt
	return &cp, nil
}

func (r *InMemoryRepository) UpdateSchedule(ctx context.Context, id string, start time.Time, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.update_schedule", errStoreDown)
	}
	appt, ok := r.items[id]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "appointments.update_schedule", "appointment %s not found", id)
	}
	appt.ScheduledFor = start.UTC()
	appt.Duration = duration
	appt.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCancel {
		return apperrors.Wrap(apperrors.KindPersistence, "appointments.cancel", errStoreDown)
	}
	appt, ok := r.items[id]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "appointments.cancel", "appointment %s not found", id)
	}
	at = at.UTC()
	appt.Status = StatusCancelled
	appt.CancelledAt = &at
	appt.UpdatedAt = at
	return nil
}

func (r *InMemoryRepository) ListCancelledByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Appointment{}
	for _, appt := range r.items {
		if appt.PatientID == patientID && appt.IsCancelled() {
			cp := *appt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.After(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// All returns every record; tests use it to assert on store state.
func (r *InMemoryRepository) All() []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Appointment, 0, len(r.items))
	for _, appt := range r.items {
		cp := *appt
		out = append(out, &cp)
	}
	return out
}
