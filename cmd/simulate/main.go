package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/vetclinic-core/internal/logger"
)

// SimConfig is read from SIM_* variables.
type SimConfig struct {
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration      time.Duration `envconfig:"DURATION" default:"30s"`
	Workers       int           `envconfig:"WORKERS" default:"10"`
	Practitioners int           `envconfig:"PRACTITIONERS" default:"5"`
	Days          int           `envconfig:"DAYS" default:"3"`
	BookingRatio  float64       `envconfig:"BOOKING_RATIO" default:"0.4"`
	ChangeRatio   float64       `envconfig:"CHANGE_RATIO" default:"0.2"`
	PaymentRatio  float64       `envconfig:"PAYMENT_RATIO" default:"0.2"`
	ReadRatio     float64       `envconfig:"READ_RATIO" default:"0.2"`
}

type DataPool struct {
	Practitioners []uuid.UUID
	Opening       time.Time
	Days          int

	mu           sync.RWMutex
	appointments []uuid.UUID
	invoices     []uuid.UUID
}

func (dp *DataPool) add(list *[]uuid.UUID, id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	*list = append(*list, id)
}

func (dp *DataPool) random(rng *rand.Rand, list *[]uuid.UUID) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(*list) == 0 {
		return uuid.Nil, false
	}
	return (*list)[rng.Intn(len(*list))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeBusy
	outcomeError
)

func classify(status, ok int) outcome {
	switch {
	case status == ok:
		return outcomeSuccess
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return outcomeConflict
	case status == http.StatusServiceUnavailable:
		return outcomeBusy
	default:
		return outcomeError
	}
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeBusy:
		atomic.AddInt64(&om.Busy, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Propose      OperationMetrics
	Transition   OperationMetrics
	Payment      OperationMetrics
	Availability OperationMetrics
	Agenda       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true, Output: os.Stderr}).
		With().Str("service", "simulate").Logger()

	_ = godotenv.Load()

	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if err := validateConfig(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("change", cfg.ChangeRatio).
		Float64("payment", cfg.PaymentRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	pool := &DataPool{
		Opening: time.Now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 8*time.Hour),
		Days:    cfg.Days,
	}
	for i := 0; i < cfg.Practitioners; i++ {
		pool.Practitioners = append(pool.Practitioners, uuid.New())
	}

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func validateConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Practitioners <= 0 || cfg.Days <= 0 {
		return errors.New("SIM_PRACTITIONERS and SIM_DAYS must be > 0")
	}

	total := cfg.BookingRatio + cfg.ChangeRatio + cfg.PaymentRatio + cfg.ReadRatio
	if total <= 0 {
		return errors.New("at least one ratio must be positive")
	}
	cfg.BookingRatio /= total
	cfg.ChangeRatio /= total
	cfg.PaymentRatio /= total
	cfg.ReadRatio /= total
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doPropose(ctx, rng)
		case r < c.BookingRatio+c.ChangeRatio:
			s.doTransition(ctx, rng)
		case r < c.BookingRatio+c.ChangeRatio+c.PaymentRatio:
			s.doPayment(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doAvailability(ctx, rng)
			} else {
				s.doAgenda(ctx, rng)
			}
		}
	}
}

// call sends a JSON request and decodes a JSON response into out when the
// status matches ok.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any, ok int) (outcome, time.Duration) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return outcomeError, 0
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return outcomeError, latency
	}
	defer resp.Body.Close()

	o := classify(resp.StatusCode, ok)
	if o == outcomeSuccess && out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return o, latency
}

func (s *Simulator) practitioner(rng *rand.Rand) uuid.UUID {
	return s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
}

func (s *Simulator) doPropose(ctx context.Context, rng *rand.Rand) {
	start := s.pool.Opening.
		AddDate(0, 0, rng.Intn(s.pool.Days)).
		Add(time.Duration(rng.Intn(36)) * 15 * time.Minute)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	o, latency := s.call(ctx, http.MethodPost, "/appointments", map[string]any{
		"patient_id":       uuid.NewString(),
		"practitioner_id":  s.practitioner(rng).String(),
		"start_at":         start.Format(time.RFC3339),
		"duration_minutes": []int{15, 30, 45, 60}[rng.Intn(4)],
		"kind":             "CONSULTATION",
	}, &created, http.StatusCreated)

	if o == outcomeSuccess && created.ID != uuid.Nil {
		s.pool.add(&s.pool.appointments, created.ID)
	}
	s.metrics.Propose.Record(latency, o)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.random(rng, &s.pool.appointments)
	if !ok {
		return
	}

	body := map[string]any{"status": "CONFIRMED"}
	if rng.Intn(4) == 0 {
		body = map[string]any{"status": "CANCELLED", "cancellation_reason": "owner rescheduled"}
	}

	o, latency := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/transition", body, nil, http.StatusOK)
	s.metrics.Transition.Record(latency, o)
}

// doPayment opens a fresh invoice now and then; otherwise it pays a random
// slice of an existing one so several workers race on the same balance.
func (s *Simulator) doPayment(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.random(rng, &s.pool.invoices)
	if !ok || rng.Intn(5) == 0 {
		s.openInvoice(ctx, rng)
		return
	}

	o, latency := s.call(ctx, http.MethodPost, "/invoices/"+id.String()+"/payments", map[string]any{
		"amount":      fmt.Sprintf("%d.00", 5+rng.Intn(40)),
		"method":      []string{"CASH", "CARD", "TRANSFER", "CHECK"}[rng.Intn(4)],
		"received_by": uuid.NewString(),
	}, nil, http.StatusCreated)
	s.metrics.Payment.Record(latency, o)
}

func (s *Simulator) openInvoice(ctx context.Context, rng *rand.Rand) {
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	o, _ := s.call(ctx, http.MethodPost, "/invoices", map[string]any{
		"patient_id": uuid.NewString(),
		"owner_id":   uuid.NewString(),
		"issued_by":  uuid.NewString(),
	}, &created, http.StatusCreated)
	if o != outcomeSuccess {
		return
	}

	for n := 1 + rng.Intn(3); n > 0; n-- {
		s.call(ctx, http.MethodPost, "/invoices/"+created.ID.String()+"/items", map[string]any{
			"product_id": uuid.NewString(),
			"quantity":   1 + rng.Intn(3),
			"unit_price": fmt.Sprintf("%d.%02d", 10+rng.Intn(90), rng.Intn(100)),
		}, nil, http.StatusOK)
	}
	s.pool.add(&s.pool.invoices, created.ID)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	day := s.pool.Opening.AddDate(0, 0, rng.Intn(s.pool.Days))
	path := fmt.Sprintf("/practitioners/%s/availability?from=%s&to=%s",
		s.practitioner(rng), day.Format(time.RFC3339), day.Add(10*time.Hour).Format(time.RFC3339))

	o, latency := s.call(ctx, http.MethodGet, path, nil, nil, http.StatusOK)
	s.metrics.Availability.Record(latency, o)
}

func (s *Simulator) doAgenda(ctx context.Context, rng *rand.Rand) {
	day := s.pool.Opening.AddDate(0, 0, rng.Intn(s.pool.Days))
	path := fmt.Sprintf("/practitioners/%s/agenda?date=%s", s.practitioner(rng), day.Format(time.DateOnly))

	o, latency := s.call(ctx, http.MethodGet, path, nil, nil, http.StatusOK)
	s.metrics.Agenda.Record(latency, o)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Propose", &s.metrics.Propose)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Payment", &s.metrics.Payment)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Agenda", &s.metrics.Agenda)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	busy := atomic.LoadInt64(&om.Busy)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if busy > 0 {
		fmt.Printf("  Busy: %d (%.1f%%)\n", busy, pct(busy))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
