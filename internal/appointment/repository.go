package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStatusChanged is returned by UpdateStatus when the row no longer holds
	// the expected from-status.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// OverlapError is returned by Create when storage itself detects an overlap
// with an active appointment (the Postgres exclusion constraint).
type OverlapError struct {
	ExistingID uuid.UUID
}

func (e *OverlapError) Error() string {
	return "appointment overlaps an active appointment"
}

// Repository contains all storage interactions needed by the scheduler.
// Callers hold the practitioner lock around every mutating call.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	// Get returns archived rows too; audit lookups rely on it.
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListBlocking returns active, non-archived appointments of practitionerID
	// whose interval intersects [from, to).
	ListBlocking(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	// ListAgenda returns non-archived appointments of any status starting in
	// [from, to), ascending by start.
	ListAgenda(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason *string, at time.Time) (*Appointment, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error)

	// ListConfirmedEndingBefore feeds the no-show sweep.
	ListConfirmedEndingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
}
