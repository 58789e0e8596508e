package invoice

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/db"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
)

// Needs a disposable database; set POSTGRES_TEST_DSN to run.
func TestPgGetReadsOneSnapshot(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	repo := NewPgRepository(pool)
	svc := NewService(repo, lock.NewLocal(2*time.Second), clinic.NopNotifier{}, Options{
		TaxRate: dec("0.10"),
		Clock:   clinic.FixedClock(testNow),
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})

	inv, err := svc.Open(ctx, OpenInput{PatientID: uuid.New(), OwnerID: uuid.New(), IssuedBy: uuid.New()})
	require.NoError(t, err)
	inv, err = svc.AddItem(ctx, inv.ID, AddItemInput{ProductID: uuid.New(), Quantity: 2, UnitPrice: dec("50.00")})
	require.NoError(t, err)

	// every write bumps the version once, so version minus payments is fixed
	base := inv.Version - len(inv.Payments)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := repo.Get(ctx, inv.ID)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, base, got.Version-len(got.Payments))
				assert.True(t, got.AmountPaid().LessThanOrEqual(got.Total))
			}
		}()
	}

	for i := 0; i < 11; i++ {
		_, err := svc.RecordPayment(ctx, inv.ID, payment("10.00"))
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	final, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, final.Status())
}
