package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/app"
	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/config"
	"github.com/hackgods/pms-scheduling/internal/logger"
)

const runTimeout = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "slot-materializer")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "slot-materializer")
	log.Info().
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.HorizonDays).
		Msg("slot-materializer starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("error closing connections")
		}
	}()

	// Run once at startup
	runOnce(rootCtx, log, a.Service)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping slot-materializer")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, a.Service)
		}
	}
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	res, err := svc.MaterializeHorizon(runCtx)
	if err != nil {
		// Per-provider failures are joined; the other providers were still projected.
		log.Error().Err(err).Msg("materialize run finished with errors")
	}
	log.Info().
		Int("inserted", res.Inserted).
		Int("booked", res.Booked).
		Int("blocked", res.Blocked).
		Int("reopened", res.Reopened).
		Dur("took", time.Since(start)).
		Msg("materialize run complete")
}
