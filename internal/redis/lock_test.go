package redisclient

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vetclinic-core/internal/lock"
)

// These tests need a reachable Redis; set REDIS_TEST_ADDR to run them.
func testLocker(t *testing.T, wait time.Duration) *Locker {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client, err := Connect(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewLocker(client, 5*time.Second, wait)
}

func TestLockerSerializesSameKey(t *testing.T) {
	l := testLocker(t, 5*time.Second)
	key := lock.PractitionerKey(uuid.New())

	var counter, inside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), key, func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) != 1 {
					t.Error("two holders inside the same key")
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&counter, 1)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), counter)
}

func TestLockerGivesUpAfterWait(t *testing.T) {
	l := testLocker(t, 30*time.Millisecond)
	key := lock.InvoiceKey(uuid.New())

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := l.WithLock(context.Background(), key, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	close(release)
	<-done

	err = l.WithLock(context.Background(), key, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
