package lock

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

// Guard runs engine critical sections under a Locker and reports a lock that
// could not be taken in time as *clinic.BusyError.
type Guard struct {
	locker  Locker
	engine  string
	metrics *metrics.Metrics
}

func NewGuard(locker Locker, engine string, m *metrics.Metrics) *Guard {
	return &Guard{locker: locker, engine: engine, metrics: m}
}

func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	start := time.Now()

	err := g.locker.WithLock(ctx, key, func(ctx context.Context) error {
		g.metrics.LockWait.WithLabelValues(g.engine).Observe(time.Since(start).Seconds())
		return fn(ctx)
	})
	if errors.Is(err, ErrNotAcquired) {
		g.metrics.LockBusy.WithLabelValues(g.engine).Inc()
		return &clinic.BusyError{Key: key, Err: err}
	}
	return err
}
