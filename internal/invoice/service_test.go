package invoice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/clinic/clinictest"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	notifier *clinictest.RecordingNotifier
}

func newFixture(t *testing.T, wait time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		repo:     NewMemoryRepository(),
		notifier: &clinictest.RecordingNotifier{},
	}
	f.svc = NewService(f.repo, lock.NewLocal(wait), f.notifier, Options{
		TaxRate: dec("0.10"),
		Clock:   clinic.FixedClock(testNow),
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	return f
}

func (f *fixture) open(t *testing.T) *Invoice {
	t.Helper()
	inv, err := f.svc.Open(context.Background(), OpenInput{
		PatientID: uuid.New(),
		OwnerID:   uuid.New(),
		IssuedBy:  uuid.New(),
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) withItem(t *testing.T, qty int, price string) *Invoice {
	t.Helper()
	inv := f.open(t)
	inv, err := f.svc.AddItem(context.Background(), inv.ID, AddItemInput{
		ProductID: uuid.New(),
		Quantity:  qty,
		UnitPrice: dec(price),
	})
	require.NoError(t, err)
	return inv
}

func payment(amount string) PaymentInput {
	return PaymentInput{Amount: dec(amount), Method: MethodCash, ReceivedBy: uuid.New()}
}

func TestOpenStartsPendingWithSequentialNumbers(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	first := f.open(t)
	second := f.open(t)

	assert.Equal(t, "INV-00000001", first.Number)
	assert.Equal(t, "INV-00000002", second.Number)
	assert.Equal(t, StatusPending, first.Status())
	assert.True(t, first.Total.IsZero())
	assert.Equal(t, []string{clinic.EventInvoiceOpened, clinic.EventInvoiceOpened}, f.notifier.Kinds())
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	_, err := f.svc.Open(context.Background(), OpenInput{OwnerID: uuid.New(), IssuedBy: uuid.New()})

	var verr *clinic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "patient_id", verr.Field)
}

func TestAddItemRecomputesTotals(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	inv := f.withItem(t, 2, "50.00")

	assert.Equal(t, "100.00", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "10.00", inv.Tax.StringFixed(2))
	assert.Equal(t, "110.00", inv.Total.StringFixed(2))
	assert.Equal(t, StatusPending, inv.Status())
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "100.00", inv.Items[0].LineTotal.StringFixed(2))

	stored, err := f.svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(inv.Total))
}

func TestAddItemValidation(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	inv := f.open(t)

	tests := []struct {
		name  string
		in    AddItemInput
		field string
	}{
		{"missing product", AddItemInput{Quantity: 1, UnitPrice: dec("1.00")}, "product_id"},
		{"zero quantity", AddItemInput{ProductID: uuid.New(), Quantity: 0, UnitPrice: dec("1.00")}, "quantity"},
		{"negative price", AddItemInput{ProductID: uuid.New(), Quantity: 1, UnitPrice: dec("-1.00")}, "unit_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddItem(context.Background(), inv.ID, tt.in)

			var verr *clinic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFullPaymentFreezesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50*time.Millisecond)
	inv := f.withItem(t, 2, "50.00")

	p, err := f.svc.RecordPayment(ctx, inv.ID, payment("110.00"))
	require.NoError(t, err)
	assert.Equal(t, "RCP-00000001", p.ReceiptNumber)

	stored, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status())

	balance, err := f.svc.Balance(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, err = f.svc.AddItem(ctx, inv.ID, AddItemInput{ProductID: uuid.New(), Quantity: 1, UnitPrice: dec("5.00")})
	var serr *clinic.InvalidStateError
	require.ErrorAs(t, err, &serr)

	_, err = f.svc.RecordPayment(ctx, inv.ID, payment("1.00"))
	require.ErrorAs(t, err, &serr)

	events := f.notifier.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, clinic.EventInvoicePaid, last.Kind)
	assert.Equal(t, inv.ID.String(), last.Payload["invoice_id"])
	assert.Equal(t, "110.00", last.Payload["total_paid"])
}

func TestOverpaymentRejectedWhole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50*time.Millisecond)
	inv := f.withItem(t, 2, "50.00")

	_, err := f.svc.RecordPayment(ctx, inv.ID, payment("150.00"))

	var oerr *clinic.OverpaymentError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "110.00", oerr.Outstanding.StringFixed(2))

	stored, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Payments)
	assert.Equal(t, StatusPending, stored.Status())
	assert.NotContains(t, f.notifier.Kinds(), clinic.EventInvoicePaymentRecorded)
}

func TestPartialPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50*time.Millisecond)
	inv := f.withItem(t, 2, "50.00")

	_, err := f.svc.RecordPayment(ctx, inv.ID, payment("40.00"))
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, stored.Status())
	assert.Equal(t, "70.00", stored.Balance().StringFixed(2))

	// Items can still be added while partially paid.
	stored, err = f.svc.AddItem(ctx, inv.ID, AddItemInput{ProductID: uuid.New(), Quantity: 1, UnitPrice: dec("10.00")})
	require.NoError(t, err)
	assert.Equal(t, "121.00", stored.Total.StringFixed(2))
	assert.Equal(t, "81.00", stored.Balance().StringFixed(2))

	_, err = f.svc.RecordPayment(ctx, inv.ID, payment("81.00"))
	require.NoError(t, err)

	stored, err = f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status())
	assert.Equal(t, "121.00", stored.AmountPaid().StringFixed(2))
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	inv := f.withItem(t, 1, "10.00")

	tests := []struct {
		name  string
		in    PaymentInput
		field string
	}{
		{"zero", PaymentInput{Amount: decimal.Zero, Method: MethodCard, ReceivedBy: uuid.New()}, "amount"},
		{"negative", PaymentInput{Amount: dec("-5"), Method: MethodCard, ReceivedBy: uuid.New()}, "amount"},
		{"three decimals", PaymentInput{Amount: dec("1.005"), Method: MethodCard, ReceivedBy: uuid.New()}, "amount"},
		{"unknown method", PaymentInput{Amount: dec("1.00"), Method: "BARTER", ReceivedBy: uuid.New()}, "method"},
		{"missing receiver", PaymentInput{Amount: dec("1.00"), Method: MethodTransfer}, "received_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordPayment(context.Background(), inv.ID, tt.in)

			var verr *clinic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestUnknownInvoice(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	id := uuid.New()

	var nf *clinic.NotFoundError

	_, err := f.svc.Get(context.Background(), id)
	require.ErrorAs(t, err, &nf)

	_, err = f.svc.Balance(context.Background(), id)
	require.ErrorAs(t, err, &nf)

	_, err = f.svc.RecordPayment(context.Background(), id, payment("1.00"))
	require.ErrorAs(t, err, &nf)
}

func TestConcurrentPaymentsNeverExceedTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2*time.Second)
	inv := f.withItem(t, 2, "50.00")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		receipts  = map[string]bool{}
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.RecordPayment(ctx, inv.ID, payment("10.00"))
			if err != nil {
				var oerr *clinic.OverpaymentError
				var serr *clinic.InvalidStateError
				if !errors.As(err, &oerr) && !errors.As(err, &serr) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			succeeded++
			receipts[p.ReceiptNumber] = true
		}()
	}
	wg.Wait()

	stored, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, 11, succeeded)
	assert.Len(t, receipts, succeeded)
	assert.Len(t, stored.Payments, succeeded)
	assert.True(t, stored.AmountPaid().Equal(stored.Total))
	assert.Equal(t, StatusPaid, stored.Status())
}

func TestBusyWhenInvoiceLocked(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal(20 * time.Millisecond)
	repo := NewMemoryRepository()
	svc := NewService(repo, locker, nil, Options{TaxRate: dec("0.10"), Logger: zerolog.Nop()})

	inv, err := svc.Open(ctx, OpenInput{PatientID: uuid.New(), OwnerID: uuid.New(), IssuedBy: uuid.New()})
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, lock.InvoiceKey(inv.ID), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err = svc.RecordPayment(ctx, inv.ID, payment("1.00"))

	var busy *clinic.BusyError
	require.ErrorAs(t, err, &busy)
	assert.True(t, clinic.IsRetryable(err))
}

type staleRepository struct {
	*MemoryRepository
}

func (staleRepository) SaveItem(context.Context, *Invoice, LineItem) error { return ErrStale }

func TestStaleWriteIsRetryable(t *testing.T) {
	ctx := context.Background()
	repo := staleRepository{NewMemoryRepository()}
	svc := NewService(repo, lock.NewLocal(50*time.Millisecond), nil, Options{TaxRate: dec("0.10"), Logger: zerolog.Nop()})

	inv, err := svc.Open(ctx, OpenInput{PatientID: uuid.New(), OwnerID: uuid.New(), IssuedBy: uuid.New()})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, inv.ID, AddItemInput{ProductID: uuid.New(), Quantity: 1, UnitPrice: dec("1.00")})

	assert.True(t, clinic.IsRetryable(err))
	assert.True(t, errors.Is(err, ErrStale))
}
