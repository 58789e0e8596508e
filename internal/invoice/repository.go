package invoice

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrStale means the invoice was changed since it was read.
	ErrStale = errors.New("invoice version is stale")
)

// NumberFunc renders an allocated sequence value as a document number.
type NumberFunc func(seq int64) string

// Repository persists invoices. Number and receipt allocation happen inside
// the same storage transaction as the write that uses them.
type Repository interface {
	// Create allocates the next invoice number, stores inv and sets inv.Number.
	Create(ctx context.Context, inv *Invoice, number NumberFunc) error
	Get(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// SaveItem stores item, already appended as the last of inv.Items, together
	// with inv's recomputed totals. inv.Version must match storage; it is
	// incremented on success.
	SaveItem(ctx context.Context, inv *Invoice, item LineItem) error
	// SavePayment allocates a receipt number into p, stores it, appends it to
	// inv.Payments and increments inv.Version. The version rule of SaveItem applies.
	SavePayment(ctx context.Context, inv *Invoice, p *Payment, receipt NumberFunc) error
}
