// Package pendingsweep periodically opens threads for queued orders whose
// customers joined while the bot was not listening.
package pendingsweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderdesk-bot/internal/workers"

	"github.com/robfig/cron/v3"
)

const runTimeout = 5 * time.Minute

// Worker handles re-checking queued orders
type Worker struct {
	sweeper  Sweeper
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(sweeper Sweeper, schedule string, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(workers.CronLogger(logger)),
			cron.SkipIfStillRunning(workers.CronLogger(logger)),
		)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *Worker) Name() string {
	return "pendingsweep"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, w.Run)
	if err != nil {
		return fmt.Errorf("failed to schedule pending sweep %q: %w", w.schedule, err)
	}

	w.cron.Start()
	return nil
}

// Stop aborts a running sweep and waits for it to return.
func (w *Worker) Stop() {
	w.logger.Info("Stopping pending sweep worker")
	w.cancel()
	<-w.cron.Stop().Done()
}

// Run executes one sweep.
func (w *Worker) Run() {
	ctx, cancel := context.WithTimeout(w.ctx, runTimeout)
	defer cancel()

	opened, err := w.sweeper.SweepPending(ctx)
	if err != nil {
		w.logger.Error("Pending sweep failed", "error", err, "opened", opened)
		return
	}
	if opened > 0 {
		w.logger.Info("Pending sweep opened threads", "count", opened)
	}
}
