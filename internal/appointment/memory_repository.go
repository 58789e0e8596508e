package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. Its mutex only
// protects the map; cross-request serialization comes from the Locker.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Appointment)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Blocks() {
		for _, existing := range r.rows {
			if existing.PractitionerID == a.PractitionerID && existing.Blocks() && existing.Interval().Overlaps(a.Interval()) {
				return &OverlapError{ExistingID: existing.ID}
			}
		}
	}

	r.rows[a.ID] = clone(*a)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := clone(a)
	return &out, nil
}

func (r *MemoryRepository) ListBlocking(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	window := Interval{Start: from, End: to}
	return r.list(func(a *Appointment) bool {
		return a.PractitionerID == practitionerID && a.Blocks() && a.Interval().Overlaps(window)
	}), nil
}

func (r *MemoryRepository) ListAgenda(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool {
		return a.PractitionerID == practitionerID && !a.Archived() &&
			!a.StartAt.Before(from) && a.StartAt.Before(to)
	}), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, cancellationReason *string, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}

	a.Status = to
	a.CancellationReason = copyString(cancellationReason)
	a.UpdatedAt = at
	r.rows[id] = a

	out := clone(a)
	return &out, nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.DeletedAt == nil {
		deletedAt := at
		a.DeletedAt = &deletedAt
		a.UpdatedAt = at
		r.rows[id] = a
	}

	out := clone(a)
	return &out, nil
}

func (r *MemoryRepository) ListConfirmedEndingBefore(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	result := r.list(func(a *Appointment) bool {
		return a.Status == StatusConfirmed && !a.Archived() && a.EndAt().Before(cutoff)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) list(keep func(a *Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.rows {
		if keep(&a) {
			result = append(result, clone(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartAt.Equal(result[j].StartAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].StartAt.Before(result[j].StartAt)
	})
	return result
}

func clone(a Appointment) Appointment {
	a.CancellationReason = copyString(a.CancellationReason)
	if a.DeletedAt != nil {
		d := *a.DeletedAt
		a.DeletedAt = &d
	}
	return a
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
