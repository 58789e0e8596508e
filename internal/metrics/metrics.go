package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hackgods/vetclinic-core/internal/clinic"
)

const namespace = "vetclinic"

// Metrics holds all application metrics
type Metrics struct {
	Operations    *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	LockWait      *prometheus.HistogramVec
	LockBusy      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	NotifyQueue   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New registers every collector on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_operations_total",
			Help:      "Mutations handled by the scheduling and billing engines",
		}, []string{"engine", "operation", "result"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Committed appointment state transitions",
		}, []string{"from", "to"}),
		LockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-resource lock",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"engine"}),
		LockBusy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_busy_total",
			Help:      "Requests rejected because the resource lock was not acquired in time",
		}, []string{"engine"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Notification events by outcome",
		}, []string{"kind", "result"}),
		NotifyQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Events waiting for dispatch",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Outcome maps an engine error to a low-cardinality label value.
func Outcome(err error) string {
	var (
		validation  *clinic.ValidationError
		conflict    *clinic.ConflictError
		transition  *clinic.InvalidTransitionError
		state       *clinic.InvalidStateError
		overpayment *clinic.OverpaymentError
		notFound    *clinic.NotFoundError
		busy        *clinic.BusyError
	)

	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &transition):
		return "invalid_transition"
	case errors.As(err, &state):
		return "invalid_state"
	case errors.As(err, &overpayment):
		return "overpayment"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &busy):
		return "busy"
	default:
		return "error"
	}
}
