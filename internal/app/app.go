// Package app assembles the engines from configuration. Every binary that
// mutates clinic state goes through Build so they share one store, one lock
// backend and one notification pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/config"
	"github.com/hackgods/vetclinic-core/internal/db"
	"github.com/hackgods/vetclinic-core/internal/invoice"
	"github.com/hackgods/vetclinic-core/internal/lock"
	"github.com/hackgods/vetclinic-core/internal/metrics"
	"github.com/hackgods/vetclinic-core/internal/notify"
	redisclient "github.com/hackgods/vetclinic-core/internal/redis"
)

type App struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher

	Appointments *appointment.Service
	Invoices     *invoice.Service
}

// Build connects the configured backends and wires both engines. The caller
// must run a.Dispatcher and call Close when done.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Registry: prometheus.NewRegistry()}
	if err := a.build(ctx, cfg, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	var err error

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if cfg.Store == config.StorePostgres {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		if err := db.Migrate(ctx, a.Pool); err != nil {
			return err
		}
		log.Info().Msg("connected to Postgres")
	}

	if cfg.NeedsRedis() {
		a.Redis, err = redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		locker = redisclient.NewLocker(a.Redis, cfg.LockTTL.Duration, cfg.LockWait.Duration)
	default:
		locker = lock.NewLocal(cfg.LockWait.Duration)
	}

	sinks := notify.Multi{notify.LogSink{Log: log.With().Str("component", "events").Logger()}}
	if cfg.NotifyRedis && a.Redis != nil {
		sinks = append(sinks, notify.NewRedisSink(a.Redis, notify.DefaultChannel))
	}
	if a.Pool != nil {
		sinks = append(sinks, notify.NewPgEventLog(a.Pool))
	}
	a.Dispatcher = notify.NewDispatcher(sinks, notify.Options{
		QueueSize: cfg.NotifyQueueSize,
		Workers:   cfg.NotifyWorkers,
		Logger:    log,
		Metrics:   a.Metrics,
	})

	zones, err := appointment.ParseZones(cfg.DefaultTimezone, cfg.PractitionerTimezones)
	if err != nil {
		return fmt.Errorf("practitioner time zones: %w", err)
	}

	var (
		apptRepo    appointment.Repository
		invoiceRepo invoice.Repository
	)
	if a.Pool != nil {
		apptRepo = appointment.NewPgRepository(a.Pool)
		invoiceRepo = invoice.NewPgRepository(a.Pool)
	} else {
		apptRepo = appointment.NewMemoryRepository()
		invoiceRepo = invoice.NewMemoryRepository()
	}

	a.Appointments = appointment.NewService(apptRepo, locker, a.Dispatcher, appointment.Options{
		Zones:   zones,
		Logger:  log,
		Metrics: a.Metrics,
	})
	a.Invoices = invoice.NewService(invoiceRepo, locker, a.Dispatcher, invoice.Options{
		TaxRate:       cfg.InvoiceTaxRate,
		InvoicePrefix: cfg.InvoiceNumberPrefix,
		ReceiptPrefix: cfg.ReceiptNumberPrefix,
		Logger:        log,
		Metrics:       a.Metrics,
	})

	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
