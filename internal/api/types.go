package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/invoice"
)

type ProposeAppointmentRequest struct {
	PatientID       string    `json:"patient_id" validate:"required,uuid"`
	PractitionerID  string    `json:"practitioner_id" validate:"required,uuid"`
	StartAt         time.Time `json:"start_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,max=1440"`
	Kind            string    `json:"kind" validate:"required,oneof=CONSULTATION SURGERY VACCINATION CHECKUP EMERGENCY"`
	Reason          string    `json:"reason" validate:"max=500"`
	Notes           string    `json:"notes" validate:"max=2000"`
}

type TransitionRequest struct {
	Status             string  `json:"status" validate:"required"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
}

type OpenInvoiceRequest struct {
	PatientID   string  `json:"patient_id" validate:"required,uuid"`
	OwnerID     string  `json:"owner_id" validate:"required,uuid"`
	IssuedBy    string  `json:"issued_by" validate:"required,uuid"`
	EncounterID *string `json:"encounter_id,omitempty" validate:"omitempty,uuid"`
}

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required,numeric"`
}

type RecordPaymentRequest struct {
	Amount     string `json:"amount" validate:"required,numeric"`
	Method     string `json:"method" validate:"required,oneof=CASH CARD TRANSFER CHECK"`
	ReceivedBy string `json:"received_by" validate:"required,uuid"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PractitionerID     uuid.UUID  `json:"practitioner_id"`
	StartAt            time.Time  `json:"start_at"`
	EndAt              time.Time  `json:"end_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Kind               string     `json:"kind"`
	Reason             string     `json:"reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		PractitionerID:     a.PractitionerID,
		StartAt:            a.StartAt,
		EndAt:              a.EndAt(),
		DurationMinutes:    a.DurationMinutes,
		Kind:               string(a.Kind),
		Reason:             a.Reason,
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		Status:             string(a.Status),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		DeletedAt:          a.DeletedAt,
	}
}

type IntervalResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type LineItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	LineTotal string    `json:"line_total"`
}

type PaymentResponse struct {
	ID            uuid.UUID `json:"id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	ReceiptNumber string    `json:"receipt_number"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method"`
	ReceivedBy    uuid.UUID `json:"received_by"`
	PaidAt        time.Time `json:"paid_at"`
}

type InvoiceResponse struct {
	ID          uuid.UUID          `json:"id"`
	Number      string             `json:"number"`
	PatientID   uuid.UUID          `json:"patient_id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	EncounterID *uuid.UUID         `json:"encounter_id,omitempty"`
	IssuedBy    uuid.UUID          `json:"issued_by"`
	Status      string             `json:"status"`
	Subtotal    string             `json:"subtotal"`
	Tax         string             `json:"tax"`
	Total       string             `json:"total"`
	AmountPaid  string             `json:"amount_paid"`
	Balance     string             `json:"balance"`
	Items       []LineItemResponse `json:"items"`
	Payments    []PaymentResponse  `json:"payments"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toPaymentResponse(p invoice.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		ReceiptNumber: p.ReceiptNumber,
		Amount:        p.Amount.StringFixed(invoice.CurrencyPlaces),
		Method:        string(p.Method),
		ReceivedBy:    p.ReceivedBy,
		PaidAt:        p.PaidAt,
	}
}

func toInvoiceResponse(inv *invoice.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		PatientID:   inv.PatientID,
		OwnerID:     inv.OwnerID,
		EncounterID: inv.EncounterID,
		IssuedBy:    inv.IssuedBy,
		Status:      string(inv.Status()),
		Subtotal:    inv.Subtotal.StringFixed(invoice.CurrencyPlaces),
		Tax:         inv.Tax.StringFixed(invoice.CurrencyPlaces),
		Total:       inv.Total.StringFixed(invoice.CurrencyPlaces),
		AmountPaid:  inv.AmountPaid().StringFixed(invoice.CurrencyPlaces),
		Balance:     inv.Balance().StringFixed(invoice.CurrencyPlaces),
		Items:       make([]LineItemResponse, 0, len(inv.Items)),
		Payments:    make([]PaymentResponse, 0, len(inv.Payments)),
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}

	for _, it := range inv.Items {
		resp.Items = append(resp.Items, LineItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.String(),
			LineTotal: it.LineTotal.String(),
		})
	}
	for _, p := range inv.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}

	return resp
}

type BalanceResponse struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Balance   string    `json:"balance"`
}

type ErrorResponse struct {
	Error         string     `json:"error"`
	Details       string     `json:"details,omitempty"`
	Field         string     `json:"field,omitempty"`
	ConflictingID *uuid.UUID `json:"conflicting_appointment_id,omitempty"`
}
