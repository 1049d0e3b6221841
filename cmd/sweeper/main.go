package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/app"
	"staybook_escrow/internal/shared"
	"staybook_escrow/internal/wire"
)

func main() {
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.Serve(observability.InitRegistry())

	log.Info().
		Int("workers", cfg.SweepWorkers).
		Int("batch", cfg.SweepBatch).
		Dur("interval", cfg.SweepInterval).
		Msg("sweeper starting")

	sys, err := wire.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer sys.Close()

	// SWEEP_INTERVAL=0 runs each sweep once and exits.
	if cfg.SweepInterval <= 0 {
		run(ctx, sys.Sweeper)
		return
	}
	ticker := clockz.RealClock.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	run(ctx, sys.Sweeper)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C():
			run(ctx, sys.Sweeper)
		}
	}
}

func run(ctx context.Context, s *app.Sweeper) {
	reports, err := s.RunAll(ctx)
	for _, r := range reports {
		log.Info().
			Str("sweep", r.Sweep).
			Int("visited", r.Visited).
			Int("pages", r.Pages).
			Int64("done", r.Done).
			Int64("skipped", r.Skipped).
			Int64("failed", r.Failed).
			Msg("sweep completed")
	}
	if err != nil {
		log.Error().Err(err).Msg("sweep run failed")
	}
}
