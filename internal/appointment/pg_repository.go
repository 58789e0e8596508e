package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exclusion_violation, raised by appointments_no_overlap
const pgExclusionViolation = "23P01"

const appointmentColumns = `
	id, patient_id, practitioner_id, start_at, duration_minutes, kind,
	reason, notes, cancellation_reason, status, created_at, updated_at, deleted_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.StartAt,
		&a.DurationMinutes,
		&a.Kind,
		&a.Reason,
		&a.Notes,
		&a.CancellationReason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, start_at, end_at, duration_minutes, kind,
			reason, notes, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, a.ID, a.PatientID, a.PractitionerID, a.StartAt, a.EndAt(), a.DurationMinutes, a.Kind,
		a.Reason, a.Notes, a.Status, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return &OverlapError{}
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListBlocking(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
		  AND deleted_at IS NULL
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAgenda(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND deleted_at IS NULL
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at, created_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list agenda: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason *string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = $3
		  AND deleted_at IS NULL
		RETURNING `+appointmentColumns+`
	`, id, to, from, cancellationReason, at)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		if _, getErr := r.Get(ctx, id); getErr == nil {
			return nil, ErrStatusChanged
		}
	}
	return updated, err
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET deleted_at = COALESCE(deleted_at, $2),
		    updated_at = CASE WHEN deleted_at IS NULL THEN $2 ELSE updated_at END
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, at)
	return scanAppointment(row)
}

func (r *PgRepository) ListConfirmedEndingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'CONFIRMED'
		  AND deleted_at IS NULL
		  AND end_at < $1
		ORDER BY end_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue confirmed appointments: %w", err)
	}
	return collectAppointments(rows)
}
