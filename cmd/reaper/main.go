// Command reaper periodically requeues workflow_runs rows stuck in
// `running` whose heartbeat_at has gone stale, recovering from a worker
// process that crashed mid-run (spec.md §7 ClaimLost/StaleHeartbeat).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/madmag77/bpmn-workflows/internal/config"
	"github.com/madmag77/bpmn-workflows/internal/infrastructure/logger"
	"github.com/madmag77/bpmn-workflows/internal/queue"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel)

	store := queue.NewBunStore(cfg.DatabaseDSN)
	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize workflow_runs schema")
	}

	reaper := queue.NewReaper(store, cfg.PollInterval, cfg.StaleThreshold)

	runCtx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down reaper")
		cancel()
	}()

	log.Info().Dur("stale_threshold", cfg.StaleThreshold).Msg("reaper starting")
	reaper.Run(runCtx)
	log.Info().Msg("reaper exited")
}
