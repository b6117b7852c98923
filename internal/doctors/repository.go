package doctors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
)

// Repository is keyed CRUD over doctor profiles.
type Repository interface {
	Get(ctx context.Context, id string) (*Doctor, error)
	GetByEmail(ctx context.Context, email string) (*Doctor, error)
	UpdateWorkingHours(ctx context.Context, id string, hours availability.WorkingHours) error
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores doctors in the doctors table; working hours are jsonb.
type PostgresRepository struct {
	db execQuerier
}

// NewPostgresRepository accepts a *pgxpool.Pool or any compatible querier.
func NewPostgresRepository(db execQuerier) *PostgresRepository {
	if db == nil {
		panic("doctors: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const selectDoctor = `
		SELECT id, name, email, specialty, calendar_id, working_hours, cancellation_policy, password_hash
		FROM doctors
`

// Get loads a doctor by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	return r.scanOne(ctx, "doctors.get", selectDoctor+"WHERE id = $1", id)
}

// GetByEmail loads a doctor by login email (case-insensitive).
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Doctor, error) {
	return r.scanOne(ctx, "doctors.get_by_email", selectDoctor+"WHERE lower(email) = $1", strings.ToLower(strings.TrimSpace(email)))
}

// UpdateWorkingHours replaces the doctor's weekly hours.
func (r *PostgresRepository) UpdateWorkingHours(ctx context.Context, id string, hours availability.WorkingHours) error {
	raw, err := json.Marshal(hours)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvalidInput, "doctors.update_hours", err)
	}
	query := `
		UPDATE doctors
		SET working_hours = $2, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, raw)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "doctors.update_hours", fmt.Errorf("doctors: update working hours: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.KindNotFound, "doctors.update_hours", "doctor %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, op, query string, arg string) (*Doctor, error) {
	var (
		d          Doctor
		hoursRaw   []byte
		specialty  *string
		calendarID *string
		policy     *string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&specialty,
		&calendarID,
		&hoursRaw,
		&policy,
		&d.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.KindNotFound, op, "doctor %s not found", arg)
		}
		return nil, apperrors.Wrap(apperrors.KindPersistence, op, fmt.Errorf("doctors: select: %w", err))
	}
	d.Specialty = deref(specialty)
	d.CalendarID = deref(calendarID)
	d.CancellationPolicy = deref(policy)
	if len(hoursRaw) > 0 {
		if err := json.Unmarshal(hoursRaw, &d.WorkingHours); err != nil {
			return nil, apperrors.Wrap(apperrors.KindPersistence, op, fmt.Errorf("doctors: decode working hours: %w", err))
		}
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// InMemoryRepository keeps doctors in a map.
type InMemoryRepository struct {
	mu      sync.RWMutex
	doctors map[string]*Doctor
	// FailUpdates makes UpdateWorkingHours return a persistence error.
	FailUpdates bool
}

// NewInMemoryRepository creates a repository seeded with the given doctors.
func NewInMemoryRepository(seed ...*Doctor) *InMemoryRepository {
	r := &InMemoryRepository{doctors: make(map[string]*Doctor)}
	for _, d := range seed {
		r.doctors[d.ID] = d
	}
	return r
}

// Put inserts or replaces a doctor.
func (r *InMemoryRepository) Put(d *Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "doctors.get", "doctor %s not found", id)
	}
	return cloneDoctor(d), nil
}

func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.doctors {
		if strings.EqualFold(d.Email, strings.TrimSpace(email)) {
			return cloneDoctor(d), nil
		}
	}
	return nil, apperrors.New(apperrors.KindNotFound, "doctors.get_by_email", "doctor %s not found", email)
}

func (r *InMemoryRepository) UpdateWorkingHours(ctx context.Context, id string, hours availability.WorkingHours) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdates {
		return apperrors.New(apperrors.KindPersistence, "doctors.update_hours", "store unavailable")
	}
	d, ok := r.doctors[id]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "doctors.update_hours", "doctor %s not found", id)
	}
	d.WorkingHours = hours
	return nil
}

func cloneDoctor(d *Doctor) *Doctor {
	cp := *d
	if d.WorkingHours != nil {
		cp.WorkingHours = make(availability.WorkingHours, len(d.WorkingHours))
		for k, v := range d.WorkingHours {
			cp.WorkingHours[k] = v
		}
	}
	return &cp
}
