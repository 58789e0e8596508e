package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is derived from the payments on every read and never stored.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCard     PaymentMethod = "CARD"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodCheck    PaymentMethod = "CHECK"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodCheck:
		return true
	}
	return false
}

type LineItem struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	// LineTotal is Quantity x UnitPrice, unrounded.
	LineTotal decimal.Decimal
}

// Payment is append-only once recorded.
type Payment struct {
	ID            uuid.UUID
	InvoiceID     uuid.UUID
	ReceiptNumber string
	Amount        decimal.Decimal
	Method        PaymentMethod
	ReceivedBy    uuid.UUID
	PaidAt        time.Time
}

type Invoice struct {
	ID          uuid.UUID
	Number      string
	PatientID   uuid.UUID
	OwnerID     uuid.UUID
	EncounterID *uuid.UUID
	IssuedBy    uuid.UUID
	Items       []LineItem
	Payments    []Payment
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Version increments on every committed mutation; storage rejects writes
	// carrying a stale one.
	Version int
}

func (inv *Invoice) AmountPaid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range inv.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// Balance is the outstanding amount, never negative.
func (inv *Invoice) Balance() decimal.Decimal {
	balance := inv.Total.Sub(inv.AmountPaid())
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

func (inv *Invoice) Status() Status {
	paid := inv.AmountPaid()
	switch {
	case paid.IsZero():
		return StatusPending
	case paid.LessThan(inv.Total):
		return StatusPartial
	default:
		return StatusPaid
	}
}

func (inv *Invoice) clone() *Invoice {
	out := *inv
	out.Items = append([]LineItem(nil), inv.Items...)
	out.Payments = append([]Payment(nil), inv.Payments...)
	if inv.EncounterID != nil {
		id := *inv.EncounterID
		out.EncounterID = &id
	}
	return &out
}
