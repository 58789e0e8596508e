package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/vetclinic-core/internal/app"
	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/config"
	"github.com/hackgods/vetclinic-core/internal/logger"
)

const batchSize = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stdout}).
		With().Str("service", "noshow-worker").Logger()
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval.Duration).
		Dur("grace", cfg.NoShowGrace.Duration).
		Msg("no-show worker starting up")

	if cfg.Store != config.StorePostgres {
		log.Fatal().Msg("the no-show worker needs STORE=postgres; an in-memory calendar is private to its process")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("error closing connections")
		}
	}()

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return a.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		// Run once at startup
		runOnce(ctx, a.Appointments, cfg.NoShowGrace.Duration, log)

		ticker := time.NewTicker(cfg.WorkerInterval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received, stopping no-show worker")
				return nil
			case <-ticker.C:
				runOnce(ctx, a.Appointments, cfg.NoShowGrace.Duration, log)
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("no-show worker stopped with error")
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, grace time.Duration, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkOverdueNoShows(runCtx, grace, batchSize)
	if err != nil {
		log.Error().Err(err).Int("marked", marked).Msg("no-show run error")
		return
	}
	log.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show run complete")
}
