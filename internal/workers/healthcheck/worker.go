// Package healthcheck watches the bot's dependencies and alerts staff on
// outages and recoveries.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const checkTimeout = 10 * time.Second

type depStatus struct {
	isUp         bool
	downSince    time.Time
	failureCount int
}

type Worker struct {
	deps     []Dependency
	alerter  Alerter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	statusMu sync.RWMutex
	statuses map[string]*depStatus

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker builds the watchdog; alerter may be nil, then outages are only logged.
func NewWorker(deps []Dependency, alerter Alerter, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		deps:     deps,
		alerter:  alerter,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]*depStatus),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "healthcheck"
}

func (w *Worker) Start() error {
	if w.interval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s", w.interval)
	}

	w.logger.Info("Starting health check worker",
		"interval", w.interval,
		"dependencies", len(w.deps))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in healthcheck worker goroutine", "panic", r)
			}
		}()
		w.run()
	}()
	return nil
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping health check worker")
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			w.CheckAll(ctx)
		case <-w.stopCh:
			return
		}
	}
}

// CheckAll runs every dependency check once.
func (w *Worker) CheckAll(ctx context.Context) {
	for _, p := range w.deps {
		w.check(ctx, p)
	}
}

func (w *Worker) check(ctx context.Context, p Dependency) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	err := p.Check(ctx)
	// остановка воркера не считается падением зависимости
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err != nil {
		w.logger.Warn("Health check failed", "dependency", p.Name, "error", err)
	} else {
		w.logger.Debug("Health check passed", "dependency", p.Name)
	}

	w.updateStatus(ctx, p.Name, err)
}

func (w *Worker) updateStatus(ctx context.Context, name string, checkErr error) {
	isUp := checkErr == nil
	now := w.now()

	w.statusMu.Lock()
	prev, exists := w.statuses[name]
	if !exists {
		prev = &depStatus{isUp: true}
		w.statuses[name] = prev
	}

	var message string
	switch {
	case prev.isUp && !isUp:
		prev.isUp = false
		prev.failureCount = 1
		prev.downSince = now
		message = fmt.Sprintf("🚨 %s is down\nError: %v\nTime: %s", name, checkErr, now.Format("2006-01-02 15:04:05"))
	case !prev.isUp && !isUp:
		prev.failureCount++
	case !prev.isUp && isUp:
		downtime := now.Sub(prev.downSince)
		message = fmt.Sprintf("✅ %s recovered\nFailed checks: %d\nDowntime: %s", name, prev.failureCount, formatDuration(downtime))
		prev.isUp = true
		prev.failureCount = 0
	}
	w.statusMu.Unlock()

	if message != "" {
		w.alert(ctx, name, message)
	}
}

func (w *Worker) alert(ctx context.Context, name, message string) {
	if w.alerter == nil {
		return
	}
	if err := w.alerter.Broadcast(context.WithoutCancel(ctx), message); err != nil {
		w.logger.Error("Failed to send health alert", "dependency", name, "error", err)
	}
}

// Healthy reports the last known state of a dependency; unknown ones are healthy.
func (w *Worker) Healthy(name string) bool {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	s, ok := w.statuses[name]
	return !ok || s.isUp
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d sec", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d min %d sec", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d h %d min", int(d.Hours()), int(d.Minutes())%60)
}
