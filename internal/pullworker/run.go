// Package pullworker runs scheduled inbound sync as a standalone process.
package pullworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mycelian/calsync/internal/config"
	"github.com/mycelian/calsync/internal/factory"
	"github.com/mycelian/calsync/internal/logger"
	"github.com/mycelian/calsync/internal/worker"
)

// Run starts the pull worker and blocks until shutdown or error. With once
// set it runs a single cycle and returns.
func Run(once bool) error {
	log := logger.New("pull-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	// Pulled events are written directly; nothing is pushed back out.
	cfg.SyncAsync = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("store")
		return err
	}
	stack := factory.NewSyncStack(st, cfg, log)
	defer func() { _ = stack.Close() }()

	schedule := cfg.PullSchedule
	if schedule == "off" {
		if !once {
			return fmt.Errorf("PULL_SCHEDULE=off: nothing to schedule, use -once")
		}
		schedule = ""
	}
	w, err := worker.New(st.Connections(), stack.Orchestrator, worker.Config{Schedule: schedule}, log)
	if err != nil {
		return err
	}
	if once {
		_, err := w.RunOnce(ctx)
		return err
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pull worker exit")
		return err
	}
	return nil
}
