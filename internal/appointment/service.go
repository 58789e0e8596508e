package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

const engine = "scheduler"

var tracer = otel.Tracer("github.com/hackgods/vetclinic-core/internal/appointment")

type Options struct {
	Clock   clinic.Clock
	Zones   ZoneResolver
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Service is the only code path allowed to change appointment state.
type Service struct {
	repo     Repository
	guard    *lock.Guard
	notifier clinic.Notifier
	clock    clinic.Clock
	zones    ZoneResolver
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewService(repo Repository, locker lock.Locker, notifier clinic.Notifier, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clinic.SystemClock
	}
	if opts.Zones == nil {
		opts.Zones = StaticZones{Default: time.UTC}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if notifier == nil {
		notifier = clinic.NopNotifier{}
	}

	return &Service{
		repo:     repo,
		guard:    lock.NewGuard(locker, engine, opts.Metrics),
		notifier: notifier,
		clock:    opts.Clock,
		zones:    opts.Zones,
		log:      opts.Logger.With().Str("component", engine).Logger(),
		metrics:  opts.Metrics,
	}
}

type ProposeInput struct {
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	StartAt         time.Time
	Kind            ServiceKind
	DurationMinutes int
	Reason          string
	Notes           string
}

func (in ProposeInput) validate(now time.Time) error {
	switch {
	case in.PatientID == uuid.Nil:
		return clinic.Invalid("patient_id", "is required")
	case in.PractitionerID == uuid.Nil:
		return clinic.Invalid("practitioner_id", "is required")
	case !in.StartAt.After(now):
		return clinic.Invalid("start_at", "must be in the future")
	case in.DurationMinutes <= 0:
		return clinic.Invalid("duration_minutes", "must be positive")
	case in.DurationMinutes > MaxDurationMinutes:
		return clinic.Invalid("duration_minutes", fmt.Sprintf("must not exceed %d", MaxDurationMinutes))
	case !in.Kind.Valid():
		return clinic.Invalid("kind", fmt.Sprintf("unknown service kind %q", in.Kind))
	}
	return nil
}

// Propose books a new appointment in PROGRAMADA. The overlap scan and the
// insert run under the practitioner's lock so concurrent bookings cannot both
// pass the scan.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Propose", trace.WithAttributes(
		attribute.String("practitioner_id", in.PractitionerID.String()),
	))
	defer span.End()

	appt, err := s.propose(ctx, in)
	s.record(span, "propose", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("practitioner_id", appt.PractitionerID.String()).
		Time("start_at", appt.StartAt).
		Int("duration_minutes", appt.DurationMinutes).
		Msg("appointment proposed")

	s.notifier.Notify(ctx, clinic.EventAppointmentProposed, map[string]any{
		"appointment_id":  appt.ID.String(),
		"practitioner_id": appt.PractitionerID.String(),
		"patient_id":      appt.PatientID.String(),
		"start_at":        appt.StartAt,
		"end_at":          appt.EndAt(),
	})

	return appt, nil
}

func (s *Service) propose(ctx context.Context, in ProposeInput) (*Appointment, error) {
	now := s.clock.Now()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		PractitionerID:  in.PractitionerID,
		StartAt:         in.StartAt,
		DurationMinutes: in.DurationMinutes,
		Kind:            in.Kind,
		Reason:          strings.TrimSpace(in.Reason),
		Notes:           strings.TrimSpace(in.Notes),
		Status:          StatusProposed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	candidate := appt.Interval()

	err := s.guard.Do(ctx, lock.PractitionerKey(in.PractitionerID), func(ctx context.Context) error {
		if err := s.checkFree(ctx, in.PractitionerID, candidate); err != nil {
			return err
		}

		err := s.repo.Create(ctx, appt)
		var overlap *OverlapError
		if errors.As(err, &overlap) {
			// storage saw a row the scan did not, e.g. written under another lock backend
			if overlap.ExistingID != uuid.Nil {
				return &clinic.ConflictError{AppointmentID: overlap.ExistingID}
			}
			if scanErr := s.checkFree(ctx, in.PractitionerID, candidate); scanErr != nil {
				return scanErr
			}
			// the colliding row is gone again; the caller can retry
			return &clinic.BusyError{Key: lock.PractitionerKey(in.PractitionerID), Err: err}
		}
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return appt, nil
}

func (s *Service) checkFree(ctx context.Context, practitionerID uuid.UUID, candidate Interval) error {
	existing, err := s.repo.ListBlocking(ctx, practitionerID, candidate.Start, candidate.End)
	if err != nil {
		return fmt.Errorf("scan calendar: %w", err)
	}
	for _, a := range existing {
		if a.Interval().Overlaps(candidate) {
			return &clinic.ConflictError{AppointmentID: a.ID}
		}
	}
	return nil
}

// Transition moves an appointment along its lifecycle. A cancellation reason
// is required for CANCELLED and rejected for every other target.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, cancellationReason *string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Transition", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("target", string(target)),
	))
	defer span.End()

	before, after, err := s.transition(ctx, id, target, cancellationReason)
	s.record(span, "transition", err)
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(before), string(after.Status)).Inc()
	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(before)).
		Str("to", string(after.Status)).
		Msg("appointment transitioned")

	s.notifier.Notify(ctx, clinic.EventAppointmentStatusChanged, map[string]any{
		"appointment_id":  id.String(),
		"practitioner_id": after.PractitionerID.String(),
		"old_state":       string(before),
		"new_state":       string(after.Status),
	})

	return after, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, target Status, cancellationReason *string) (Status, *Appointment, error) {
	if _, ok := ParseStatus(string(target)); !ok {
		return "", nil, clinic.Invalid("status", fmt.Sprintf("unknown status %q", target))
	}

	var reason *string
	if cancellationReason != nil {
		if trimmed := strings.TrimSpace(*cancellationReason); trimmed != "" {
			reason = &trimmed
		}
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	var (
		from    Status
		updated *Appointment
	)
	err = s.guard.Do(ctx, lock.PractitionerKey(current.PractitionerID), func(ctx context.Context) error {
		// re-read under the lock, the pre-lock copy only told us which key to take
		current, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if current.Archived() {
			return &clinic.InvalidStateError{Resource: "appointment", ID: id, Reason: "archived"}
		}
		if !ValidTransition(current.Status, target) {
			return &clinic.InvalidTransitionError{From: string(current.Status), To: string(target)}
		}
		if target == StatusCancelled && reason == nil {
			return clinic.Invalid("cancellation_reason", "is required when cancelling")
		}
		if target != StatusCancelled && cancellationReason != nil {
			return clinic.Invalid("cancellation_reason", "is only allowed when cancelling")
		}

		from = current.Status
		updated, err = s.repo.UpdateStatus(ctx, id, current.Status, target, reason, s.clock.Now())
		if errors.Is(err, ErrStatusChanged) {
			return &clinic.BusyError{Key: lock.PractitionerKey(current.PractitionerID), Err: err}
		}
		if err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	return from, updated, nil
}

// Archive soft-deletes an appointment. It leaves conflict checks, agendas and
// counts but stays readable through Get.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Archived() {
		return current, nil
	}

	var archived *Appointment
	err = s.guard.Do(ctx, lock.PractitionerKey(current.PractitionerID), func(ctx context.Context) error {
		a, err := s.repo.SoftDelete(ctx, id, s.clock.Now())
		if errors.Is(err, ErrAppointmentNotFound) {
			return &clinic.NotFoundError{Resource: "appointment", ID: id}
		}
		if err != nil {
			return fmt.Errorf("archive appointment: %w", err)
		}
		archived = a
		return nil
	})
	s.metrics.Operations.WithLabelValues(engine, "archive", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment archived")
	s.notifier.Notify(ctx, clinic.EventAppointmentArchived, map[string]any{
		"appointment_id": id.String(),
		"status":         string(archived.Status),
	})

	return archived, nil
}

// Get is an audit lookup and returns archived appointments as well.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, &clinic.NotFoundError{Resource: "appointment", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// FindDayAgenda lists the practitioner's non-archived appointments of every
// status on the calendar day named by date's year, month and day, cut in the
// practitioner's zone. The result is ascending by start.
func (s *Service) FindDayAgenda(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	loc, err := s.zones.Location(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("resolve zone: %w", err)
	}

	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	agenda, err := s.repo.ListAgenda(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load agenda: %w", err)
	}
	if agenda == nil {
		agenda = []Appointment{}
	}
	return agenda, nil
}

// Availability returns the free gaps of [windowStart, windowEnd), always
// computed from the live calendar.
func (s *Service) Availability(ctx context.Context, practitionerID uuid.UUID, windowStart, windowEnd time.Time) ([]Interval, error) {
	if !windowEnd.After(windowStart) {
		return nil, clinic.Invalid("window", "end must be after start")
	}

	booked, err := s.repo.ListBlocking(ctx, practitionerID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}

	busy := make([]Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, a.Interval())
	}

	return FreeIntervals(Interval{Start: windowStart, End: windowEnd}, busy), nil
}

// MarkOverdueNoShows moves CONFIRMED appointments that ended more than grace
// ago to NO_SHOW. It is intended to be called by the worker periodically.
func (s *Service) MarkOverdueNoShows(ctx context.Context, grace time.Duration, batch int) (int, error) {
	cutoff := s.clock.Now().Add(-grace)

	overdue, err := s.repo.ListConfirmedEndingBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		_, err := s.Transition(ctx, appt.ID, StatusNoShow, nil)
		var illegal *clinic.InvalidTransitionError
		switch {
		case err == nil:
			marked++
		case errors.As(err, &illegal):
			// someone moved it on since the scan
		default:
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark no-show")
		}
	}

	return marked, nil
}

func (s *Service) record(span trace.Span, operation string, err error) {
	s.metrics.Operations.WithLabelValues(engine, operation, metrics.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
	}
}
