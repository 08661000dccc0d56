package locks

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	m := NewManager()
	key := Key{UserID: "u1", OrderID: "ord_1"}

	if !m.TryAcquire(key) {
		t.Fatal("first acquire must succeed")
	}
	if m.TryAcquire(key) {
		t.Fatal("second acquire must fail while held")
	}
	if !m.TryAcquire(Key{UserID: "u1", OrderID: "ord_2"}) {
		t.Fatal("different order must not be blocked")
	}

	m.Release(key)
	if !m.TryAcquire(key) {
		t.Fatal("acquire after release must succeed")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	m := NewManager()
	key := Key{UserID: "u1", OrderID: "ord_1"}
	boom := errors.New("boom")

	acquired, err := m.WithLock(key, func() error { return boom })
	if !acquired || !errors.Is(err, boom) {
		t.Fatalf("WithLock = %v, %v", acquired, err)
	}
	if m.Held(key) {
		t.Fatal("lock leaked after failed attempt")
	}

	acquired, err = m.WithLock(key, func() error { return nil })
	if !acquired || err != nil {
		t.Fatalf("subsequent attempt blocked: %v, %v", acquired, err)
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := NewManager()
	key := Key{UserID: "u1", OrderID: "ord_1"}

	func() {
		defer func() { _ = recover() }()
		_, _ = m.WithLock(key, func() error { panic("unexpected") })
	}()

	if m.Held(key) {
		t.Fatal("lock leaked after panic")
	}
}

func TestWithLockBusyDoesNotRun(t *testing.T) {
	m := NewManager()
	key := Key{UserID: "u1", OrderID: "ord_1"}
	m.TryAcquire(key)

	ran := false
	acquired, err := m.WithLock(key, func() error { ran = true; return nil })
	if acquired || err != nil || ran {
		t.Fatalf("busy key: acquired=%v err=%v ran=%v", acquired, err, ran)
	}
	if !m.Held(key) {
		t.Fatal("busy attempt must not release the holder's lock")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	m := NewManager()
	key := Key{UserID: "u1", OrderID: "ord_1"}

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquire(key) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
