package dispatch

import (
	"context"
	"time"

	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/stories/orders"
)

type Members interface {
	Member(ctx context.Context, guildID, userID string) (*platform.Member, error)
}

type Threads interface {
	Create(ctx context.Context, order orders.Order) (*platform.Thread, error)
	Complete(ctx context.Context, orderID, completedBy string) (int, error)
	Threads(ctx context.Context, orderID string) ([]platform.Thread, error)
	Post(ctx context.Context, orderID string, msg platform.OutgoingMessage) (int, error)
}

type Notifier interface {
	Staff(ctx context.Context, order orders.Order, thread *platform.Thread)
	Customer(ctx context.Context, order orders.Order, thread platform.Thread) bool
}

type Backend interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	MarkDelivered(ctx context.Context, orderID, deliveredBy string, at time.Time) error
	SetDeliveryState(ctx context.Context, orderID, state string) error
}

type PendingStore interface {
	UpsertPendingOrder(ctx context.Context, order orders.Order) (*orders.PendingOrder, error)
	ListPendingOrders(ctx context.Context, criteria orders.PendingCriteria) ([]*orders.PendingOrder, error)
	MarkPendingOrderOpened(ctx context.Context, id int64, threadID string) error
	RecordPendingOrderFailure(ctx context.Context, id int64, reason string) error
	ExpirePendingOrder(ctx context.Context, id int64, reason string) error
}
