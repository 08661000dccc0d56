package storage

import (
	"context"
	"testing"
	"time"

	"orderdesk-bot/internal/infra/sqlite3"
	"orderdesk-bot/internal/stories/orders"
)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()
	ctx := context.Background()

	// одно соединение: каждая новая :memory: связь видит пустую базу
	db, err := sqlite3.New(ctx, sqlite3.WithDSN(":memory:"), sqlite3.WithMaxOpenConns(1))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db.DB)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestUpsertPendingOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	order := orders.Order{
		ID:        "ord_abc123",
		UserID:    "42",
		Product:   "Dragon",
		TotalPaid: 1999,
		Promo:     &orders.PromoCode{Code: "SAVE5", Discount: "5", Type: "fixed"},
	}

	created, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}
	if created.Status != orders.PendingWaiting {
		t.Errorf("status = %q", created.Status)
	}
	if created.Order.Product != "Dragon" || created.Order.TotalPaid != 1999 {
		t.Errorf("order round trip = %+v", created.Order)
	}
	if created.Order.Promo == nil || created.Order.Promo.Code != "SAVE5" {
		t.Errorf("promo = %+v", created.Order.Promo)
	}

	order.Product = "Phoenix"
	updated, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("second UpsertPendingOrder: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("upsert created a second row: %d vs %d", updated.ID, created.ID)
	}
	if updated.Order.Product != "Phoenix" {
		t.Errorf("payload not replaced: %q", updated.Order.Product)
	}
}

func TestListPendingOrders(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, o := range []orders.Order{
		{ID: "a1", UserID: "u1"},
		{ID: "a2", UserID: "u1"},
		{ID: "b1", UserID: "u2"},
	} {
		if _, err := s.UpsertPendingOrder(ctx, o); err != nil {
			t.Fatalf("UpsertPendingOrder(%s): %v", o.ID, err)
		}
	}

	first, err := s.GetPendingOrder(ctx, "u1", "a1")
	if err != nil || first == nil {
		t.Fatalf("GetPendingOrder: %v, %v", first, err)
	}
	if err := s.MarkPendingOrderOpened(ctx, first.ID, "thread-9"); err != nil {
		t.Fatalf("MarkPendingOrderOpened: %v", err)
	}

	user := "u1"
	waiting := orders.PendingWaiting
	tests := []struct {
		name     string
		criteria orders.PendingCriteria
		want     []string
	}{
		{"all", orders.PendingCriteria{}, []string{"a1", "a2", "b1"}},
		{"by user", orders.PendingCriteria{UserID: &user}, []string{"a1", "a2"}},
		{"waiting for user", orders.PendingCriteria{UserID: &user, Status: &waiting}, []string{"a2"}},
		{"waiting", orders.PendingCriteria{Status: &waiting}, []string{"a2", "b1"}},
		{"limit", orders.PendingCriteria{Limit: 1}, []string{"a1"}},
		{"page after first row", orders.PendingCriteria{AfterID: first.ID, Limit: 1}, []string{"a2"}},
		{"waiting after first row", orders.PendingCriteria{Status: &waiting, AfterID: first.ID}, []string{"a2", "b1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListPendingOrders(ctx, tt.criteria)
			if err != nil {
				t.Fatalf("ListPendingOrders: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d orders, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if p.Order.ID != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, p.Order.ID, tt.want[i])
				}
			}
		})
	}

	opened, _ := s.GetPendingOrder(ctx, "u1", "a1")
	if opened.Status != orders.PendingOpened || opened.ThreadID != "thread-9" {
		t.Errorf("opened = %+v", opened)
	}
}

func TestRecordPendingOrderFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p, err := s.UpsertPendingOrder(ctx, orders.Order{ID: "a1", UserID: "u1"})
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordPendingOrderFailure(ctx, p.ID, "claim channel not found"); err != nil {
			t.Fatalf("RecordPendingOrderFailure: %v", err)
		}
	}

	got, _ := s.GetPendingOrder(ctx, "u1", "a1")
	if got.Attempts != 2 || got.LastError != "claim channel not found" || got.Status != orders.PendingWaiting {
		t.Errorf("after failures = %+v", got)
	}
}

func TestDeletePendingOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p, err := s.UpsertPendingOrder(ctx, orders.Order{ID: "a1", UserID: "u1"})
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}

	deleted, err := s.DeletePendingOrder(ctx, p.ID)
	if err != nil || !deleted {
		t.Fatalf("DeletePendingOrder = %v, %v", deleted, err)
	}
	deleted, err = s.DeletePendingOrder(ctx, p.ID)
	if err != nil || deleted {
		t.Fatalf("second DeletePendingOrder = %v, %v", deleted, err)
	}

	missing, err := s.GetPendingOrder(ctx, "u1", "a1")
	if err != nil || missing != nil {
		t.Errorf("GetPendingOrder after delete = %v, %v", missing, err)
	}
}

func TestUpsertPendingOrder_OpenedIsNotRearmed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	order := orders.Order{ID: "ord_abc123", UserID: "42", Product: "Dragon"}
	p, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}
	if err := s.MarkPendingOrderOpened(ctx, p.ID, "thread-1"); err != nil {
		t.Fatalf("MarkPendingOrderOpened: %v", err)
	}

	again, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("second UpsertPendingOrder: %v", err)
	}
	if again.Status != orders.PendingOpened || again.ThreadID != "thread-1" {
		t.Errorf("re-sent webhook re-armed an opened order: %+v", again)
	}
}

func TestExpirePendingOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	order := orders.Order{ID: "a1", UserID: "u1"}
	p, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}
	if err := s.RecordPendingOrderFailure(ctx, p.ID, "rate limited"); err != nil {
		t.Fatalf("RecordPendingOrderFailure: %v", err)
	}
	if err := s.ExpirePendingOrder(ctx, p.ID, "gave up after 1 attempts"); err != nil {
		t.Fatalf("ExpirePendingOrder: %v", err)
	}

	expired, _ := s.GetPendingOrder(ctx, "u1", "a1")
	if expired.Status != orders.PendingExpired || expired.LastError != "gave up after 1 attempts" {
		t.Errorf("expired = %+v", expired)
	}

	waiting := orders.PendingWaiting
	if got, _ := s.ListPendingOrders(ctx, orders.PendingCriteria{Status: &waiting}); len(got) != 0 {
		t.Errorf("expired order still waiting: %d rows", len(got))
	}

	later := base.Add(48 * time.Hour)
	s.now = func() time.Time { return later }
	rearmed, err := s.UpsertPendingOrder(ctx, order)
	if err != nil {
		t.Fatalf("re-queue: %v", err)
	}
	if rearmed.Status != orders.PendingWaiting || rearmed.Attempts != 0 || rearmed.LastError != "" || !rearmed.CreatedAt.Equal(later) {
		t.Errorf("re-sent webhook should queue the order afresh: %+v", rearmed)
	}
}

func TestExpirePendingOrder_KeepsOpened(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p, err := s.UpsertPendingOrder(ctx, orders.Order{ID: "a1", UserID: "u1"})
	if err != nil {
		t.Fatalf("UpsertPendingOrder: %v", err)
	}
	if err := s.MarkPendingOrderOpened(ctx, p.ID, "thread-1"); err != nil {
		t.Fatalf("MarkPendingOrderOpened: %v", err)
	}
	if err := s.ExpirePendingOrder(ctx, p.ID, "too old"); err != nil {
		t.Fatalf("ExpirePendingOrder: %v", err)
	}

	got, _ := s.GetPendingOrder(ctx, "u1", "a1")
	if got.Status != orders.PendingOpened {
		t.Errorf("status = %q, opened orders never expire", got.Status)
	}
}
