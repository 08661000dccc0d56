package pendingsweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweeper struct {
	runs    atomic.Int32
	err     error
	blockOn chan struct{}
}

func (f *fakeSweeper) SweepPending(ctx context.Context) (int, error) {
	f.runs.Add(1)
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 1, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	w := NewWorker(&fakeSweeper{}, "every ten minutes", discard())
	if err := w.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRunCallsSweeper(t *testing.T) {
	s := &fakeSweeper{err: errors.New("db locked")}
	w := NewWorker(s, "*/10 * * * *", discard())

	w.Run()
	w.Run()

	if got := s.runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
}

func TestStopCancelsRunningSweep(t *testing.T) {
	s := &fakeSweeper{blockOn: make(chan struct{})}
	w := NewWorker(s, "*/10 * * * *", discard())
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	for s.runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep not cancelled by Stop")
	}
}
