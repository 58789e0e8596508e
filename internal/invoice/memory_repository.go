package invoice

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const (
	invoiceSequence = "invoice"
	receiptSequence = "receipt"
)

// MemoryRepository keeps invoices and their numbering sequences in process
// memory. The mutex is its transaction boundary.
type MemoryRepository struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*Invoice
	sequences map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:      make(map[uuid.UUID]*Invoice),
		sequences: make(map[string]int64),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Create(_ context.Context, inv *Invoice, number NumberFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv.Number = number(r.next(invoiceSequence))
	r.rows[inv.ID] = inv.clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.rows[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv.clone(), nil
}

func (r *MemoryRepository) SaveItem(_ context.Context, inv *Invoice, _ LineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersion(inv); err != nil {
		return err
	}

	inv.Version++
	r.rows[inv.ID] = inv.clone()
	return nil
}

func (r *MemoryRepository) SavePayment(_ context.Context, inv *Invoice, p *Payment, receipt NumberFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersion(inv); err != nil {
		return err
	}

	p.ReceiptNumber = receipt(r.next(receiptSequence))
	inv.Payments = append(inv.Payments, *p)
	inv.Version++
	r.rows[inv.ID] = inv.clone()
	return nil
}

func (r *MemoryRepository) checkVersion(inv *Invoice) error {
	stored, ok := r.rows[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if stored.Version != inv.Version {
		return ErrStale
	}
	return nil
}

func (r *MemoryRepository) next(name string) int64 {
	r.sequences[name]++
	return r.sequences[name]
}
