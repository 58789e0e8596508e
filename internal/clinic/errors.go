package clinic

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input: a non-future start, a non-positive
// duration or amount, an unknown enum value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError is returned when a candidate appointment overlaps an active one
// on the same practitioner's calendar.
type ConflictError struct {
	AppointmentID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("overlaps appointment %s", e.AppointmentID)
}

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// InvalidStateError is returned when a mutation targets a frozen record
// (a paid invoice, an archived appointment).
type InvalidStateError struct {
	Resource string
	ID       uuid.UUID
	Reason   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
}

type OverpaymentError struct {
	Amount      decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds outstanding balance %s", e.Amount.StringFixed(2), e.Outstanding.StringFixed(2))
}

type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// BusyError means the resource key stayed locked for longer than the
// configured wait. It is the only retryable kind.
type BusyError struct {
	Key string
	Err error
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("resource %s is busy, retry later", e.Key)
}

func (e *BusyError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may resubmit the same request unchanged.
func IsRetryable(err error) bool {
	var busy *BusyError
	return errors.As(err, &busy)
}
