package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

const engine = "ledger"

var tracer = otel.Tracer("github.com/hackgods/vetclinic-core/internal/invoice")

type Options struct {
	TaxRate       decimal.Decimal
	InvoicePrefix string
	ReceiptPrefix string
	Clock         clinic.Clock
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Service is the only code path allowed to change invoice totals or payments.
type Service struct {
	repo          Repository
	guard         *lock.Guard
	notifier      clinic.Notifier
	taxRate       decimal.Decimal
	invoiceNumber NumberFunc
	receiptNumber NumberFunc
	clock         clinic.Clock
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

func NewService(repo Repository, locker lock.Locker, notifier clinic.Notifier, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clinic.SystemClock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.InvoicePrefix == "" {
		opts.InvoicePrefix = "INV-"
	}
	if opts.ReceiptPrefix == "" {
		opts.ReceiptPrefix = "RCP-"
	}
	if notifier == nil {
		notifier = clinic.NopNotifier{}
	}

	return &Service{
		repo:          repo,
		guard:         lock.NewGuard(locker, engine, opts.Metrics),
		notifier:      notifier,
		taxRate:       opts.TaxRate,
		invoiceNumber: sequenceFormat(opts.InvoicePrefix),
		receiptNumber: sequenceFormat(opts.ReceiptPrefix),
		clock:         opts.Clock,
		log:           opts.Logger.With().Str("component", engine).Logger(),
		metrics:       opts.Metrics,
	}
}

func sequenceFormat(prefix string) NumberFunc {
	return func(seq int64) string {
		return fmt.Sprintf("%s%08d", prefix, seq)
	}
}

type OpenInput struct {
	PatientID   uuid.UUID
	OwnerID     uuid.UUID
	IssuedBy    uuid.UUID
	EncounterID *uuid.UUID
}

// Open creates an empty PENDING invoice with the next invoice number.
func (s *Service) Open(ctx context.Context, in OpenInput) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoice.Open")
	defer span.End()

	inv, err := s.open(ctx, in)
	s.record(span, "open", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("invoice_id", inv.ID.String()).Str("number", inv.Number).Msg("invoice opened")
	s.notifier.Notify(ctx, clinic.EventInvoiceOpened, map[string]any{
		"invoice_id": inv.ID.String(),
		"number":     inv.Number,
		"patient_id": inv.PatientID.String(),
	})

	return inv, nil
}

func (s *Service) open(ctx context.Context, in OpenInput) (*Invoice, error) {
	switch {
	case in.PatientID == uuid.Nil:
		return nil, clinic.Invalid("patient_id", "is required")
	case in.OwnerID == uuid.Nil:
		return nil, clinic.Invalid("owner_id", "is required")
	case in.IssuedBy == uuid.Nil:
		return nil, clinic.Invalid("issued_by", "is required")
	}

	now := s.clock.Now()
	inv := &Invoice{
		ID:          uuid.New(),
		PatientID:   in.PatientID,
		OwnerID:     in.OwnerID,
		EncounterID: in.EncounterID,
		IssuedBy:    in.IssuedBy,
		Subtotal:    decimal.Zero,
		Tax:         decimal.Zero,
		Total:       decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, inv, s.invoiceNumber); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

type AddItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

// AddItem appends a line and recomputes subtotal, tax and total. Paid
// invoices are frozen.
func (s *Service) AddItem(ctx context.Context, invoiceID uuid.UUID, in AddItemInput) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoice.AddItem", trace.WithAttributes(
		attribute.String("invoice_id", invoiceID.String()),
	))
	defer span.End()

	inv, err := s.addItem(ctx, invoiceID, in)
	s.record(span, "add_item", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoiceID.String()).
		Str("subtotal", inv.Subtotal.StringFixed(CurrencyPlaces)).
		Str("total", inv.Total.StringFixed(CurrencyPlaces)).
		Msg("invoice item added")

	return inv, nil
}

func (s *Service) addItem(ctx context.Context, invoiceID uuid.UUID, in AddItemInput) (*Invoice, error) {
	switch {
	case in.ProductID == uuid.Nil:
		return nil, clinic.Invalid("product_id", "is required")
	case in.Quantity <= 0:
		return nil, clinic.Invalid("quantity", "must be positive")
	case in.UnitPrice.IsNegative():
		return nil, clinic.Invalid("unit_price", "must not be negative")
	}

	var updated *Invoice
	err := s.guard.Do(ctx, lock.InvoiceKey(invoiceID), func(ctx context.Context) error {
		inv, err := s.get(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status() == StatusPaid {
			return &clinic.InvalidStateError{Resource: "invoice", ID: invoiceID, Reason: "paid invoices are frozen"}
		}

		item := LineItem{
			ID:        uuid.New(),
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))),
		}

		next := inv.clone()
		next.Items = append(next.Items, item)
		next.UpdatedAt = s.clock.Now()
		recompute(next, s.taxRate)

		if err := s.repo.SaveItem(ctx, next, item); err != nil {
			return s.storageErr(invoiceID, "save invoice item", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

type PaymentInput struct {
	Amount     decimal.Decimal
	Method     PaymentMethod
	ReceivedBy uuid.UUID
}

// RecordPayment appends a payment with a fresh receipt number. A payment that
// would push the amount paid above the total is rejected whole; the caller
// must reduce or split it.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, in PaymentInput) (*Payment, error) {
	ctx, span := tracer.Start(ctx, "invoice.RecordPayment", trace.WithAttributes(
		attribute.String("invoice_id", invoiceID.String()),
	))
	defer span.End()

	payment, inv, err := s.recordPayment(ctx, invoiceID, in)
	s.record(span, "record_payment", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoiceID.String()).
		Str("receipt", payment.ReceiptNumber).
		Str("amount", payment.Amount.StringFixed(CurrencyPlaces)).
		Str("status", string(inv.Status())).
		Msg("payment recorded")

	s.notifier.Notify(ctx, clinic.EventInvoicePaymentRecorded, map[string]any{
		"invoice_id": invoiceID.String(),
		"receipt":    payment.ReceiptNumber,
		"amount":     payment.Amount.StringFixed(CurrencyPlaces),
	})
	if inv.Status() == StatusPaid {
		s.notifier.Notify(ctx, clinic.EventInvoicePaid, map[string]any{
			"invoice_id": invoiceID.String(),
			"total_paid": inv.AmountPaid().StringFixed(CurrencyPlaces),
		})
	}

	return payment, nil
}

func (s *Service) recordPayment(ctx context.Context, invoiceID uuid.UUID, in PaymentInput) (*Payment, *Invoice, error) {
	switch {
	case !in.Amount.IsPositive():
		return nil, nil, clinic.Invalid("amount", "must be positive")
	case !hasCurrencyPrecision(in.Amount):
		return nil, nil, clinic.Invalid("amount", "must have at most two decimals")
	case !in.Method.Valid():
		return nil, nil, clinic.Invalid("method", fmt.Sprintf("unknown payment method %q", in.Method))
	case in.ReceivedBy == uuid.Nil:
		return nil, nil, clinic.Invalid("received_by", "is required")
	}

	var (
		payment *Payment
		updated *Invoice
	)
	err := s.guard.Do(ctx, lock.InvoiceKey(invoiceID), func(ctx context.Context) error {
		inv, err := s.get(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status() == StatusPaid {
			return &clinic.InvalidStateError{Resource: "invoice", ID: invoiceID, Reason: "already paid"}
		}

		outstanding := inv.Balance()
		if in.Amount.GreaterThan(outstanding) {
			return &clinic.OverpaymentError{Amount: in.Amount, Outstanding: outstanding}
		}

		now := s.clock.Now()
		p := &Payment{
			ID:         uuid.New(),
			InvoiceID:  invoiceID,
			Amount:     in.Amount,
			Method:     in.Method,
			ReceivedBy: in.ReceivedBy,
			PaidAt:     now,
		}

		next := inv.clone()
		next.UpdatedAt = now
		if err := s.repo.SavePayment(ctx, next, p, s.receiptNumber); err != nil {
			return s.storageErr(invoiceID, "save payment", err)
		}

		payment, updated = p, next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return payment, updated, nil
}

// Balance is the outstanding amount: total minus amount paid.
func (s *Service) Balance(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	inv, err := s.get(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Balance(), nil
}

func (s *Service) Get(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.get(ctx, invoiceID)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, &clinic.NotFoundError{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return inv, nil
}

func (s *Service) storageErr(invoiceID uuid.UUID, op string, err error) error {
	switch {
	case errors.Is(err, ErrStale):
		return &clinic.BusyError{Key: lock.InvoiceKey(invoiceID), Err: err}
	case errors.Is(err, ErrInvoiceNotFound):
		return &clinic.NotFoundError{Resource: "invoice", ID: invoiceID}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Service) record(span trace.Span, operation string, err error) {
	s.metrics.Operations.WithLabelValues(engine, operation, metrics.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
	}
}
