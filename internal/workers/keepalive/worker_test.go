package keepalive

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/platform/platformtest"
)

const interval = 10 * time.Millisecond

func newTestWorker(t *testing.T, p Platform) *Worker {
	t.Helper()
	w := NewWorker(p, interval, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(interval / 2)
	}
	t.Fatal("condition not met in time")
}

func TestSchedule_ReplacesExistingTimer(t *testing.T) {
	p := platformtest.New()
	thread := platform.Thread{ID: "t1", GuildID: "g1", Name: "Order-ABC123"}
	p.AddThread(thread)
	w := newTestWorker(t, p)

	w.Schedule(thread, "ord_abc123")
	w.Schedule(thread, "ord_abc123")

	if got := w.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	waitFor(t, func() bool { return p.Calls("DeleteMessage") >= 3 })

	// heartbeats are removed right after they are sent
	if got := len(p.Sent("t1")); got > 1 {
		t.Errorf("heartbeats left behind: %d", got)
	}
}

func TestCancel_StopsHeartbeats(t *testing.T) {
	p := platformtest.New()
	thread := platform.Thread{ID: "t1", GuildID: "g1"}
	p.AddThread(thread)
	w := newTestWorker(t, p)

	w.Schedule(thread, "ord_1")
	waitFor(t, func() bool { return p.Calls("SendMessage") >= 1 })

	w.Cancel("ord_1")
	if w.Active("ord_1") {
		t.Fatal("timer still active after Cancel")
	}

	// let an in-flight beat finish
	time.Sleep(3 * interval)
	sent := p.Calls("SendMessage")
	time.Sleep(5 * interval)
	if got := p.Calls("SendMessage"); got != sent {
		t.Errorf("heartbeats continued after Cancel: %d -> %d", sent, got)
	}

	// no-op for unknown orders
	w.Cancel("ord_unknown")
}

func TestBeat_SelfCancelsOnArchivedThread(t *testing.T) {
	p := platformtest.New()
	thread := platform.Thread{ID: "t1", GuildID: "g1"}
	p.AddThread(thread)
	p.SetArchived("t1")
	w := newTestWorker(t, p)

	w.Schedule(thread, "ord_1")
	waitFor(t, func() bool { return !w.Active("ord_1") })

	if got := p.Calls("SendMessage"); got != 0 {
		t.Errorf("heartbeat sent into archived thread: %d", got)
	}
}

func TestBeat_SelfCancelsOnSendFailure(t *testing.T) {
	p := platformtest.New()
	thread := platform.Thread{ID: "t1", GuildID: "g1"}
	p.AddThread(thread)
	p.FailThread["t1"] = errors.New("missing access")
	w := newTestWorker(t, p)

	w.Schedule(thread, "ord_1")
	waitFor(t, func() bool { return !w.Active("ord_1") })
}

func TestBeat_StaleTimerDoesNotRemoveReplacement(t *testing.T) {
	p := platformtest.New()
	archived := platform.Thread{ID: "old", GuildID: "g1"}
	live := platform.Thread{ID: "new", GuildID: "g1"}
	p.AddThread(archived)
	p.AddThread(live)
	p.SetArchived("old")

	w := NewWorker(p, interval, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.Schedule(archived, "ord_1")

	w.mu.Lock()
	stale := w.timers["ord_1"]
	w.mu.Unlock()

	w.Schedule(live, "ord_1")
	w.drop(stale)

	if !w.Active("ord_1") {
		t.Fatal("replacement timer was removed by a stale one")
	}
	w.Stop()
}

func TestStart_RejectsNonPositiveInterval(t *testing.T) {
	w := NewWorker(platformtest.New(), 0, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Start(); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
