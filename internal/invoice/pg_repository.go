package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Amounts cross the wire as text so no binary float is ever involved.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// nextSequence bumps a named counter row; the row lock is held until tx ends,
// so numbers are unique and gap-free among committed transactions.
func nextSequence(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO sequences (name, next_value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET next_value = sequences.next_value + 1
		RETURNING next_value
	`, name)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("next %s number: %w", name, err)
	}
	return next, nil
}

func (r *PgRepository) Create(ctx context.Context, inv *Invoice, number NumberFunc) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextSequence(ctx, tx, invoiceSequence)
	if err != nil {
		return err
	}
	inv.Number = number(seq)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (
			id, number, patient_id, owner_id, encounter_id, issued_by,
			subtotal, tax, total, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $11)
	`, inv.ID, inv.Number, inv.PatientID, inv.OwnerID, inv.EncounterID, inv.IssuedBy,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(), inv.Version, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	return tx.Commit(ctx)
}

// Get reads the invoice, its items and its payments from one snapshot.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		inv                  Invoice
		subtotal, tax, total string
	)

	err = tx.QueryRow(ctx, `
		SELECT id, number, patient_id, owner_id, encounter_id, issued_by,
		       subtotal::text, tax::text, total::text, version, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`, id).Scan(
		&inv.ID, &inv.Number, &inv.PatientID, &inv.OwnerID, &inv.EncounterID, &inv.IssuedBy,
		&subtotal, &tax, &total, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("parse subtotal: %w", err)
	}
	if inv.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("parse tax: %w", err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	if inv.Items, err = loadItems(ctx, tx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = loadPayments(ctx, tx, id); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &inv, nil
}

func loadItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) ([]LineItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, quantity, unit_price::text, line_total::text
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var (
			item             LineItem
			price, lineTotal string
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &price, &lineTotal); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("parse line total: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func loadPayments(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, invoice_id, receipt_number, amount::text, method, received_by, paid_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY paid_at, receipt_number
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount string
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.ReceiptNumber, &amount, &p.Method, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse payment amount: %w", err)
		}
		payments = append(payments, p)
	}

	return payments, rows.Err()
}

// bumpVersion is the optimistic check shared by every invoice mutation.
func bumpVersion(ctx context.Context, tx pgx.Tx, inv *Invoice) error {
	tag, err := tx.Exec(ctx, `
		UPDATE invoices
		SET subtotal = $3::numeric,
		    tax = $4::numeric,
		    total = $5::numeric,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $1
		  AND version = $2
	`, inv.ID, inv.Version, inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(), inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *PgRepository) SaveItem(ctx context.Context, inv *Invoice, item LineItem) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = bumpVersion(ctx, tx, inv); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO invoice_items (id, invoice_id, position, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)
	`, item.ID, inv.ID, len(inv.Items)-1, item.ProductID, item.Quantity, item.UnitPrice.String(), item.LineTotal.String())
	if err != nil {
		return fmt.Errorf("insert invoice item: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	inv.Version++
	return nil
}

func (r *PgRepository) SavePayment(ctx context.Context, inv *Invoice, p *Payment, receipt NumberFunc) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = bumpVersion(ctx, tx, inv); err != nil {
		return err
	}

	seq, err := nextSequence(ctx, tx, receiptSequence)
	if err != nil {
		return err
	}
	number := receipt(seq)

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, receipt_number, amount, method, received_by, paid_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	`, p.ID, inv.ID, number, p.Amount.String(), p.Method, p.ReceivedBy, p.PaidAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.ReceiptNumber = number
	inv.Payments = append(inv.Payments, *p)
	inv.Version++
	return nil
}
