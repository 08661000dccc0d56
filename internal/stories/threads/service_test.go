package threads

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"orderdesk-bot/internal/locks"
	"orderdesk-bot/internal/messages"
	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/platform/platformtest"
	"orderdesk-bot/internal/stories/orders"
)

const (
	guildID     = "g1"
	claimID     = "claim-1"
	staffRoleID = "role-staff"
	customerID  = "cust-1"
)

type fakeKeepAlive struct {
	mu        sync.Mutex
	scheduled map[string]string
	cancelled []string
}

func newFakeKeepAlive() *fakeKeepAlive {
	return &fakeKeepAlive{scheduled: make(map[string]string)}
}

func (k *fakeKeepAlive) Schedule(thread platform.Thread, orderID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scheduled[orderID] = thread.ID
}

func (k *fakeKeepAlive) Cancel(orderID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.scheduled, orderID)
	k.cancelled = append(k.cancelled, orderID)
}

type fakeBackend struct {
	mu    sync.Mutex
	links map[string]ThreadLink
	err   error
}

func (b *fakeBackend) LinkThread(_ context.Context, orderID string, link ThreadLink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.links == nil {
		b.links = make(map[string]ThreadLink)
	}
	b.links[orderID] = link
	return nil
}

type fixture struct {
	platform  *platformtest.Platform
	keepAlive *fakeKeepAlive
	backend   *fakeBackend
	locks     *locks.Manager
	service   *Service
	slept     []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := platformtest.New()
	p.AddChannel(guildID, claimID, "claim-orders")
	p.AddMember(customerID)
	p.AddMember("staff-1", staffRoleID)
	p.AddMember("staff-2", staffRoleID)

	f := &fixture{
		platform:  p,
		keepAlive: newFakeKeepAlive(),
		backend:   &fakeBackend{},
		locks:     locks.NewManager(),
	}
	f.service = NewService(p, f.keepAlive, f.backend, f.locks, messages.MustDefault(), nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{
			GuildID:        guildID,
			ClaimChannelID: claimID,
			StaffRoleID:    staffRoleID,
			LogChannelName: "order-log",
			GraceDelay:     5 * time.Second,
		})
	f.service.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func testOrder() orders.Order {
	return orders.Order{
		ID:             "ord_abc123",
		UserID:         customerID,
		Product:        "Dragon",
		TotalPaid:      1999,
		DiscountAmount: 500,
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	thread, err := f.service.Create(ctx, testOrder())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if thread == nil {
		t.Fatal("Create returned nil thread")
	}
	if thread.Name != "Order-ABC123" {
		t.Errorf("thread name = %q", thread.Name)
	}

	members := f.platform.Members(thread.ID)
	want := []string{customerID, "staff-1", "staff-2"}
	if strings.Join(members, ",") != strings.Join(want, ",") {
		t.Errorf("members = %v, want %v", members, want)
	}

	sent := f.platform.Sent(thread.ID)
	if len(sent) != 3 {
		t.Fatalf("expected instructions, details and ping, got %d messages", len(sent))
	}
	details := sent[1].Embeds[0]
	for field, want := range map[string]string{
		"Original Price": "~~$24.99~~",
		"Total Paid":     "$19.99",
		"Savings":        "$5.00",
	} {
		if got, _ := details.Field(field); got != want {
			t.Errorf("%s = %q, want %q", field, got, want)
		}
	}
	if !strings.Contains(sent[2].Content, "<@"+customerID+">") || !strings.Contains(sent[2].Content, "<@&"+staffRoleID+">") {
		t.Errorf("ping = %q", sent[2].Content)
	}

	link := f.backend.links["ord_abc123"]
	if link.ThreadID != thread.ID || link.ThreadURL != thread.URL() || link.DiscordUserID != customerID {
		t.Errorf("backend link = %+v", link)
	}
	if f.keepAlive.scheduled["ord_abc123"] != thread.ID {
		t.Error("keep-alive not scheduled")
	}
	if f.locks.Held(locks.Key{UserID: customerID, OrderID: "ord_abc123"}) {
		t.Error("lock leaked after success")
	}
}

func TestCreate_Twice_LeavesOneThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Create(ctx, testOrder())
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := f.service.Create(ctx, testOrder())
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	live := f.platform.Threads("ABC123")
	if len(live) != 1 {
		t.Fatalf("live threads = %d, want 1", len(live))
	}
	if live[0].ID != second.ID {
		t.Errorf("surviving thread = %s, want %s", live[0].ID, second.ID)
	}
	if !f.platform.WasDeleted(first.ID) {
		t.Error("stale thread not deleted")
	}
}

func TestCreate_Concurrent_LeavesOneThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Create(ctx, testOrder()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Create: %v", err)
	}
	if n := len(f.platform.Threads("ABC123")); n != 1 {
		t.Fatalf("live threads = %d, want 1", n)
	}
}

func TestCreate_LockBusy(t *testing.T) {
	f := newFixture(t)
	key := locks.Key{UserID: customerID, OrderID: "ord_abc123"}
	f.locks.TryAcquire(key)

	thread, err := f.service.Create(context.Background(), testOrder())
	if err != nil || thread != nil {
		t.Fatalf("Create = (%v, %v), want (nil, nil)", thread, err)
	}
	if f.platform.Mutations() != 0 {
		t.Errorf("busy lock still mutated the platform")
	}
	if !f.locks.Held(key) {
		t.Error("skipped attempt released a lock it did not own")
	}
}

func TestCreate_FailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.service.cfg.ClaimChannelID = "missing"
	ctx := context.Background()

	_, err := f.service.Create(ctx, testOrder())
	if !errors.Is(err, ErrClaimChannelNotFound) {
		t.Fatalf("err = %v, want ErrClaimChannelNotFound", err)
	}

	f.service.cfg.ClaimChannelID = claimID
	thread, err := f.service.Create(ctx, testOrder())
	if err != nil || thread == nil {
		t.Fatalf("retry after failure: (%v, %v)", thread, err)
	}
}

func TestCreate_BackendFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.New("backend down")

	thread, err := f.service.Create(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if thread == nil {
		t.Fatal("expected thread despite backend failure")
	}
}

func TestCreate_StaffAddFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.platform.Fail["RoleMembers"] = errors.New("rate limited")

	thread, err := f.service.Create(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := f.platform.Members(thread.ID); len(got) != 1 || got[0] != customerID {
		t.Errorf("members = %v", got)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	thread, err := f.service.Create(ctx, testOrder())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := f.service.Complete(ctx, "ord_abc123", "staff-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if n != 1 {
		t.Fatalf("Complete = %d, want 1", n)
	}

	live := f.platform.Threads("ABC123")
	if len(live) != 1 || !live[0].Archived || !live[0].Locked {
		t.Fatalf("thread not archived and locked: %+v", live)
	}
	if f.platform.WasDeleted(thread.ID) {
		t.Error("completed thread was deleted")
	}
	if _, ok := f.keepAlive.scheduled["ord_abc123"]; ok {
		t.Error("keep-alive still scheduled")
	}

	logChannel, ok := f.platform.ChannelByName("order-log")
	if !ok {
		t.Fatal("log channel not created")
	}
	entries := f.platform.Sent(logChannel.ID)
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if v, _ := entries[0].Embeds[0].Field("Total Paid"); v != "$19.99" {
		t.Errorf("logged total = %q", v)
	}

	if dms := f.platform.Direct(customerID); len(dms) != 1 {
		t.Errorf("customer DMs = %d, want 1", len(dms))
	}
	for _, staff := range []string{"staff-1", "staff-2"} {
		if dms := f.platform.Direct(staff); len(dms) != 0 {
			t.Errorf("staff %s got a delivery DM", staff)
		}
	}

	if len(f.slept) != 1 || f.slept[0] != 5*time.Second {
		t.Errorf("grace delay = %v", f.slept)
	}
}

func TestComplete_IsolatesThreadFailures(t *testing.T) {
	f := newFixture(t)
	f.platform.AddThread(platform.Thread{ID: "dup-1", GuildID: guildID, ParentID: claimID, Name: "Order-ABC123"}, customerID)
	f.platform.AddThread(platform.Thread{ID: "dup-2", GuildID: guildID, ParentID: claimID, Name: "order-abc123 (old)"}, customerID)
	f.platform.AddThread(platform.Thread{ID: "other", GuildID: guildID, ParentID: claimID, Name: "Order-ZZZ999"})
	f.platform.FailThread["dup-1"] = errors.New("missing permissions")
	f.platform.FailDirect[customerID] = errors.New("dms closed")

	n, err := f.service.Complete(context.Background(), "ord_abc123", "staff-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if n != 1 {
		t.Fatalf("Complete = %d, want 1", n)
	}

	for _, th := range f.platform.Threads("") {
		switch th.ID {
		case "dup-2":
			if !th.Archived || !th.Locked {
				t.Error("healthy duplicate not archived")
			}
		case "other":
			if th.Archived {
				t.Error("unrelated thread archived")
			}
		}
	}
}

func TestComplete_NoThreads(t *testing.T) {
	f := newFixture(t)

	n, err := f.service.Complete(context.Background(), "ord_missing", "staff-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if n != 0 {
		t.Errorf("Complete = %d, want 0", n)
	}
	if len(f.keepAlive.cancelled) != 1 {
		t.Error("keep-alive not cancelled")
	}
}

func TestComplete_ReusesExistingLogChannel(t *testing.T) {
	f := newFixture(t)
	f.platform.AddChannel(guildID, "log-1", "order-log")
	ctx := context.Background()

	if _, err := f.service.Create(ctx, testOrder()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.service.Complete(ctx, "ord_abc123", "staff-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if f.platform.Calls("CreateStaffChannel") != 0 {
		t.Error("log channel recreated")
	}
	if len(f.platform.Sent("log-1")) != 1 {
		t.Error("entry not written to existing log channel")
	}
}

func TestPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	thread, err := f.service.Create(ctx, testOrder())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := f.service.Post(ctx, "ABC123", platform.OutgoingMessage{Content: "hello"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if n != 1 {
		t.Fatalf("Post = %d, want 1", n)
	}
	sent := f.platform.Sent(thread.ID)
	if sent[len(sent)-1].Content != "hello" {
		t.Errorf("last message = %q", sent[len(sent)-1].Content)
	}
}
