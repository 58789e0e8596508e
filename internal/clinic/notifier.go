package clinic

import "context"

const (
	EventAppointmentProposed      = "appointment.proposed"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentArchived      = "appointment.archived"
	EventInvoiceOpened            = "invoice.opened"
	EventInvoicePaymentRecorded   = "invoice.payment_recorded"
	EventInvoicePaid              = "invoice.paid"
)

// Notifier is told about committed state changes. Delivery belongs to the
// implementation; callers never wait on it and never see its failures.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]any)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, map[string]any) {}
