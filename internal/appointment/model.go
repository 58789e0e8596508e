package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

// StatusProposed is persisted as PROGRAMADA, the name the clinic front desk
// has always used for a booked but unconfirmed visit.
const (
	StatusProposed   Status = "PROGRAMADA"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// ParseStatus accepts the wire names plus PROPOSED as an alias of PROGRAMADA.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusProposed, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), true
	case "PROPOSED":
		return StatusProposed, true
	}
	return "", false
}

// Active reports whether an appointment in this state still holds its slot.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type ServiceKind string

const (
	KindConsultation ServiceKind = "CONSULTATION"
	KindSurgery      ServiceKind = "SURGERY"
	KindVaccination  ServiceKind = "VACCINATION"
	KindCheckup      ServiceKind = "CHECKUP"
	KindEmergency    ServiceKind = "EMERGENCY"
)

func (k ServiceKind) Valid() bool {
	switch k {
	case KindConsultation, KindSurgery, KindVaccination, KindCheckup, KindEmergency:
		return true
	}
	return false
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	PractitionerID     uuid.UUID
	StartAt            time.Time
	DurationMinutes    int
	Kind               ServiceKind
	Reason             string
	Notes              string
	CancellationReason *string
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// MaxDurationMinutes bounds a single booking to one day.
const MaxDurationMinutes = 24 * 60

func (a *Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartAt, End: a.EndAt()}
}

func (a *Appointment) Archived() bool {
	return a.DeletedAt != nil
}

// Blocks reports whether the appointment takes part in conflict checks.
func (a *Appointment) Blocks() bool {
	return a.Status.Active() && !a.Archived()
}
