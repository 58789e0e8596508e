// Package notify delivers engine events to external sinks off the request
// path. Delivery is best effort: nothing here can undo a committed change.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

type Event struct {
	ID         uuid.UUID      `json:"id"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Options struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	Clock           clinic.Clock
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Dispatcher implements clinic.Notifier with a bounded queue drained by a
// fixed set of workers. Notify never blocks: when the queue is full the event
// is dropped and counted.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	workers int
	timeout time.Duration
	clock   clinic.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

var _ clinic.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clinic.SystemClock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.DeliveryTimeout,
		clock:   opts.Clock,
		log:     opts.Logger.With().Str("component", "notify").Logger(),
		metrics: opts.Metrics,
	}
}

func (d *Dispatcher) Notify(_ context.Context, kind string, payload map[string]any) {
	ev := Event{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    payload,
		OccurredAt: d.clock.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}

	select {
	case d.queue <- ev:
		d.metrics.NotifyQueue.Inc()
	default:
		d.drop(ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.metrics.Notifications.WithLabelValues(ev.Kind, "dropped").Inc()
	d.log.Warn().Str("kind", ev.Kind).Str("event_id", ev.ID.String()).Msg("notification dropped: " + reason)
}

// Run delivers queued events until ctx is cancelled, then stops accepting new
// ones and drains what is already queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range d.queue {
				d.metrics.NotifyQueue.Dec()
				d.deliver(ev)
			}
		}()
	}

	d.log.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("notification dispatcher started")

	<-ctx.Done()
	d.Close()
	wg.Wait()

	d.log.Info().Msg("notification dispatcher stopped")
	return nil
}

// Close stops accepting events. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.metrics.Notifications.WithLabelValues(ev.Kind, "failed").Inc()
		d.log.Error().Err(err).Str("kind", ev.Kind).Str("event_id", ev.ID.String()).Msg("notification delivery failed")
		return
	}
	d.metrics.Notifications.WithLabelValues(ev.Kind, "delivered").Inc()
}
