package doctors

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-scheduler/internal/apperrors"
	"github.com/wolfman30/appointment-scheduler/internal/availability"
)

var doctorColumns = []string{"id", "name", "email", "specialty", "calendar_id", "working_hours", "cancellation_policy", "password_hash"}

func TestPostgresRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	specialty := "Cardiology"
	policy := "24 hours notice"
	var calendarID *string
	mock.ExpectQuery("FROM doctors").
		WithArgs("d-1").
		WillReturnRows(pgxmock.NewRows(doctorColumns).
			AddRow("d-1", "Dr. Grey", "grey@example.com", &specialty, calendarID,
				[]byte(`{"monday":{"start":"09:00","end":"12:00"}}`), &policy, "hash"))

	d, err := repo.Get(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", d.Specialty)
	assert.Equal(t, "24 hours notice", d.CancellationPolicy)
	assert.Equal(t, "d-1", d.ResourceID())
	assert.Equal(t, availability.DayHours{Start: "09:00", End: "12:00"}, d.WorkingHours["monday"])

	mock.ExpectQuery("FROM doctors").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByEmailLowercases(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	var none *string
	mock.ExpectQuery("FROM doctors").
		WithArgs("grey@example.com").
		WillReturnRows(pgxmock.NewRows(doctorColumns).
			AddRow("d-1", "Dr. Grey", "grey@example.com", none, none, []byte(nil), none, "hash"))

	d, err := repo.GetByEmail(context.Background(), "  Grey@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "d-1", d.ID)
	assert.Nil(t, d.WorkingHours)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateWorkingHours(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	hours := availability.WorkingHours{"monday": {Start: "09:00", End: "12:00"}}

	mock.ExpectExec("UPDATE doctors").
		WithArgs("d-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateWorkingHours(context.Background(), "d-1", hours))

	mock.ExpectExec("UPDATE doctors").
		WithArgs("missing", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.UpdateWorkingHours(context.Background(), "missing", hours)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	mock.ExpectExec("UPDATE doctors").
		WithArgs("d-1", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	err = repo.UpdateWorkingHours(context.Background(), "d-1", hours)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository(&Doctor{
		ID:           "d-1",
		Email:        "grey@example.com",
		WorkingHours: availability.WorkingHours{"monday": {Start: "09:00", End: "12:00"}},
	})

	d, err := repo.GetByEmail(context.Background(), "GREY@example.com")
	require.NoError(t, err)
	d.WorkingHours["monday"] = availability.DayHours{Start: "00:00", End: "01:00"}

	again, err := repo.Get(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, "09:00", again.WorkingHours["monday"].Start)

	repo.FailUpdates = true
	err = repo.UpdateWorkingHours(context.Background(), "d-1", availability.WorkingHours{})
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
}
