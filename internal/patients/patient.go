// Package patients is the read side of the patient directory the booking
// workflow consults when it describes an appointment on the calendar.
package patients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
)

// Patient is the subset of the patient profile scheduling needs.
type Patient struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

// Repository looks patients up by id.
type Repository interface {
	Get(ctx context.Context, id string) (*Patient, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the patients table.
type PostgresRepository struct {
	db rowQuerier
}

// NewPostgresRepository accepts a *pgxpool.Pool or any compatible querier.
func NewPostgresRepository(db rowQuerier) *PostgresRepository {
	if db == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

// Get fetches one patient.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Patient, error) {
	query := `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), date_of_birth
		FROM patients
		WHERE id = $1
	`
	var p Patient
	if err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.DateOfBirth); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.KindNotFound, "patients.get", "patient %s not found", id)
		}
		return nil, apperrors.Wrap(apperrors.KindPersistence, "patients.get", fmt.Errorf("patients: select: %w", err))
	}
	return &p, nil
}

// InMemoryRepository keeps patients in a map.
type InMemoryRepository struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

// NewInMemoryRepository creates a repository seeded with the given patients.
func NewInMemoryRepository(seed ...*Patient) *InMemoryRepository {
	r := &InMemoryRepository{patients: make(map[string]*Patient)}
	for _, p := range seed {
		r.patients[p.ID] = p
	}
	return r
}

// Put inserts or replaces a patient.
func (r *InMemoryRepository) Put(p *Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

// Get returns a copy of the stored patient.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "patients.get", "patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}
