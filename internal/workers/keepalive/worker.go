// Package keepalive resets the platform's auto-archive countdown on active order threads.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderdesk-bot/internal/metrics"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/workers"

	"github.com/robfig/cron/v3"
)

const heartbeatText = "⏳"

// every fires at a fixed interval; cron.Every rounds to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

type timer struct {
	id       cron.EntryID
	orderID  string
	threadID string
}

// Worker owns one recurring heartbeat per active order.
type Worker struct {
	platform Platform
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*timer
}

func NewWorker(p Platform, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Worker {
	timeout := interval
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Worker{
		platform: p,
		metrics:  m,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.Recover(workers.CronLogger(logger)))),
		interval: interval,
		timeout:  timeout,
		timers:   make(map[string]*timer),
	}
}

func (w *Worker) Name() string {
	return "keepalive"
}

func (w *Worker) Start() error {
	if w.interval <= 0 {
		return fmt.Errorf("keep-alive interval must be positive, got %s", w.interval)
	}
	w.cron.Start()
	return nil
}

// Stop cancels every timer and waits for running heartbeats.
func (w *Worker) Stop() {
	w.logger.Info("Stopping keep-alive worker")

	w.mu.Lock()
	for orderID, t := range w.timers {
		w.cron.Remove(t.id)
		delete(w.timers, orderID)
	}
	w.mu.Unlock()
	w.metrics.KeepAliveActive(0)

	<-w.cron.Stop().Done()
}

// Schedule starts heartbeats for orderID, replacing any timer it already had.
func (w *Worker) Schedule(thread platform.Thread, orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if old, ok := w.timers[orderID]; ok {
		w.cron.Remove(old.id)
	}

	t := &timer{orderID: orderID, threadID: thread.ID}
	t.id = w.cron.Schedule(every(w.interval), cron.FuncJob(func() { w.beat(t) }))
	w.timers[orderID] = t
	w.metrics.KeepAliveActive(len(w.timers))

	w.logger.Debug("Keep-alive scheduled", "order_id", orderID, "thread_id", thread.ID)
}

// Cancel stops heartbeats for orderID; no-op when none are running.
func (w *Worker) Cancel(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.timers[orderID]
	if !ok {
		return
	}
	w.cron.Remove(t.id)
	delete(w.timers, orderID)
	w.metrics.KeepAliveActive(len(w.timers))

	w.logger.Debug("Keep-alive cancelled", "order_id", orderID, "thread_id", t.threadID)
}

// Active reports whether orderID has a live timer.
func (w *Worker) Active(orderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[orderID]
	return ok
}

func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *Worker) current(t *timer) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timers[t.orderID] == t
}

// drop removes t only if it is still the registered timer for its order.
func (w *Worker) drop(t *timer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cron.Remove(t.id)
	if w.timers[t.orderID] == t {
		delete(w.timers, t.orderID)
	}
	w.metrics.KeepAliveActive(len(w.timers))
}

func (w *Worker) beat(t *timer) {
	if !w.current(t) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	logger := w.logger.With("order_id", t.orderID, "thread_id", t.threadID)

	thread, err := w.platform.GetThread(ctx, t.threadID)
	if err != nil {
		logger.Warn("Keep-alive stopped: thread lookup failed", "error", err)
		w.metrics.KeepAliveBeat("failed")
		w.drop(t)
		return
	}
	if thread.Archived || thread.Locked {
		logger.Info("Keep-alive stopped: thread archived or locked")
		w.metrics.KeepAliveBeat("stopped")
		w.drop(t)
		return
	}

	msg, err := w.platform.SendMessage(ctx, t.threadID, platform.OutgoingMessage{Content: heartbeatText})
	if err != nil {
		logger.Warn("Keep-alive stopped: heartbeat send failed", "error", err)
		w.metrics.KeepAliveBeat("failed")
		w.drop(t)
		return
	}
	if err := w.platform.DeleteMessage(ctx, t.threadID, msg.ID); err != nil {
		logger.Warn("Failed to delete heartbeat message", "error", err)
	}
	w.metrics.KeepAliveBeat("ok")
}
