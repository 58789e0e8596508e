package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes critical sections per resource key. fn runs only while
// the caller holds the key; acquisition gives up with ErrNotAcquired once the
// implementation's wait bound elapses.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func PractitionerKey(id uuid.UUID) string {
	return fmt.Sprintf("practitioner:%s", id)
}

func InvoiceKey(id uuid.UUID) string {
	return fmt.Sprintf("invoice:%s", id)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are dropped once nobody holds or
// waits on them, so the key space does not grow with history.
type Local struct {
	wait    time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

func NewLocal(wait time.Duration) *Local {
	return &Local{
		wait:    wait,
		entries: make(map[string]*entry),
	}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.ref(key)
	defer l.unref(key, e)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
