package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/invoice"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	locker  *lock.Local
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	locker := lock.NewLocal(20 * time.Millisecond)
	clock := clinic.FixedClock(testNow)

	appts := appointment.NewService(appointment.NewMemoryRepository(), locker, nil, appointment.Options{
		Clock:   clock,
		Logger:  zerolog.Nop(),
		Metrics: m,
	})
	invoices := invoice.NewService(invoice.NewMemoryRepository(), locker, nil, invoice.Options{
		TaxRate: decimal.RequireFromString("0.10"),
		Clock:   clock,
		Logger:  zerolog.Nop(),
		Metrics: m,
	})

	return &testServer{
		handler: NewRouter(RouterConfig{
			Appointments: appts,
			Invoices:     invoices,
			Logger:       zerolog.Nop(),
			Metrics:      m,
			Gatherer:     reg,
			Env:          "test",
		}),
		locker: locker,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func proposeBody(practitioner uuid.UUID, start time.Time, minutes int) map[string]any {
	return map[string]any{
		"patient_id":       uuid.NewString(),
		"practitioner_id":  practitioner.String(),
		"start_at":         start.Format(time.RFC3339),
		"duration_minutes": minutes,
		"kind":             "CONSULTATION",
	}
}

func TestProposeAndConflict(t *testing.T) {
	s := newTestServer(t)
	pr := uuid.New()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/appointments", proposeBody(pr, start, 30))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "PROGRAMADA", first.Status)
	assert.Equal(t, start.Add(30*time.Minute), first.EndAt.UTC())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodPost, "/appointments", proposeBody(pr, start.Add(15*time.Minute), 30))
	require.Equal(t, http.StatusConflict, rec.Code)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "slot_conflict", errResp.Error)
	require.NotNil(t, errResp.ConflictingID)
	assert.Equal(t, first.ID, *errResp.ConflictingID)

	rec = s.do(t, http.MethodPost, "/appointments", proposeBody(pr, start.Add(30*time.Minute), 30))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestProposeValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"bad practitioner", map[string]any{
			"patient_id": uuid.NewString(), "practitioner_id": "nope",
			"start_at": "2025-06-01T10:00:00Z", "duration_minutes": 30, "kind": "CONSULTATION",
		}, "practitioner_id"},
		{"unknown kind", map[string]any{
			"patient_id": uuid.NewString(), "practitioner_id": uuid.NewString(),
			"start_at": "2025-06-01T10:00:00Z", "duration_minutes": 30, "kind": "GROOMING",
		}, "kind"},
		{"zero duration", map[string]any{
			"patient_id": uuid.NewString(), "practitioner_id": uuid.NewString(),
			"start_at": "2025-06-01T10:00:00Z", "duration_minutes": 0, "kind": "CONSULTATION",
		}, "duration_minutes"},
		{"duration overflowing time", map[string]any{
			"patient_id": uuid.NewString(), "practitioner_id": uuid.NewString(),
			"start_at": "2025-06-01T09:00:00Z", "duration_minutes": 153722868, "kind": "CONSULTATION",
		}, "duration_minutes"},
		{"past start", map[string]any{
			"patient_id": uuid.NewString(), "practitioner_id": uuid.NewString(),
			"start_at": "2025-04-01T10:00:00Z", "duration_minutes": 30, "kind": "CONSULTATION",
		}, "start_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "validation_failed", resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestTransitionFlow(t *testing.T) {
	s := newTestServer(t)
	pr := uuid.New()

	rec := s.do(t, http.MethodPost, "/appointments", proposeBody(pr, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 30))
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)
	path := "/appointments/" + appt.ID.String() + "/transition"

	rec = s.do(t, http.MethodPost, path, map[string]any{"status": "COMPLETED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, path, map[string]any{"status": "CANCELLED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, path, map[string]any{"status": "CANCELLED", "cancellation_reason": "owner travelling"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "CANCELLED", updated.Status)
	require.NotNil(t, updated.CancellationReason)
	assert.Equal(t, "owner travelling", *updated.CancellationReason)
}

func TestArchiveThenGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", proposeBody(uuid.New(), time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 30))
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = s.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodeBody[AppointmentResponse](t, rec).DeletedAt)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/transition", map[string]any{"status": "CONFIRMED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Error)
}

func TestAgendaAndAvailability(t *testing.T) {
	s := newTestServer(t)
	pr := uuid.New()

	rec := s.do(t, http.MethodPost, "/appointments", proposeBody(pr, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 60))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/practitioners/"+pr.String()+"/agenda?date=2025-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/practitioners/"+pr.String()+"/agenda?date=2025-06-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = s.do(t, http.MethodGet, "/practitioners/"+pr.String()+"/availability?from=2025-06-01T09:00:00Z&to=2025-06-01T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	free := decodeBody[[]IntervalResponse](t, rec)
	require.Len(t, free, 2)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), free[0].Start.UTC())
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), free[0].End.UTC())
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), free[1].Start.UTC())

	rec = s.do(t, http.MethodGet, "/practitioners/"+pr.String()+"/agenda?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/invoices", map[string]any{
		"patient_id": uuid.NewString(),
		"owner_id":   uuid.NewString(),
		"issued_by":  uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decodeBody[InvoiceResponse](t, rec)
	assert.Equal(t, "INV-00000001", inv.Number)
	assert.Equal(t, "PENDING", inv.Status)
	base := "/invoices/" + inv.ID.String()

	rec = s.do(t, http.MethodPost, base+"/items", map[string]any{
		"product_id": uuid.NewString(),
		"quantity":   2,
		"unit_price": "50.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv = decodeBody[InvoiceResponse](t, rec)
	assert.Equal(t, "100.00", inv.Subtotal)
	assert.Equal(t, "10.00", inv.Tax)
	assert.Equal(t, "110.00", inv.Total)

	rec = s.do(t, http.MethodPost, base+"/payments", map[string]any{
		"amount": "150.00", "method": "CASH", "received_by": uuid.NewString(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "overpayment", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/payments", map[string]any{
		"amount": "110.00", "method": "CARD", "received_by": uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "RCP-00000001", decodeBody[PaymentResponse](t, rec).ReceiptNumber)

	rec = s.do(t, http.MethodGet, base+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", decodeBody[BalanceResponse](t, rec).Balance)

	rec = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decodeBody[InvoiceResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, base+"/items", map[string]any{
		"product_id": uuid.NewString(), "quantity": 1, "unit_price": "5.00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBusyMapsToServiceUnavailable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/invoices", map[string]any{
		"patient_id": uuid.NewString(), "owner_id": uuid.NewString(), "issued_by": uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	inv := decodeBody[InvoiceResponse](t, rec)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.locker.WithLock(context.Background(), lock.InvoiceKey(inv.ID), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	rec = s.do(t, http.MethodPost, "/invoices/"+inv.ID.String()+"/items", map[string]any{
		"product_id": uuid.NewString(), "quantity": 1, "unit_price": "5.00",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestNotFoundAndBadIDs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/invoices/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invoice_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, depDisabled, ready.Dependencies["postgres"])

	s.do(t, http.MethodGet, "/health/live", nil)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vetclinic_http_requests_total{method="GET",route="/health/live",status="200"} 1`)
}
