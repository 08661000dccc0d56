package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastConfig(tries uint) Config {
	return Config{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastConfig(5), isTransient, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Do = %d, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Exec(context.Background(), fastConfig(5), isTransient, func() error {
		calls++
		return errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error retried %d times", calls)
	}
}

func TestDoRespectsCap(t *testing.T) {
	calls := 0
	err := Exec(context.Background(), fastConfig(3), isTransient, func() error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error after cap, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestTransientStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
		{200, false},
	}
	for _, tt := range tests {
		if got := TransientStatus(tt.code); got != tt.want {
			t.Errorf("TransientStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
