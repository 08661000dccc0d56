package orders

import "time"

type PendingStatus string

const (
	// PendingWaiting orders wait for the customer to join the guild.
	PendingWaiting PendingStatus = "pending"
	PendingOpened  PendingStatus = "opened"
	// PendingExpired orders ran out of attempts or waited too long; only a
	// re-sent webhook queues them again.
	PendingExpired PendingStatus = "expired"
)

// PendingOrder is an order whose customer was not in the guild when it arrived.
type PendingOrder struct {
	ID        int64
	Order     Order
	Status    PendingStatus
	ThreadID  string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PendingCriteria struct {
	UserID  *string
	OrderID *string
	Status  *PendingStatus
	// AfterID pages by row id; rows come back in id order.
	AfterID int64
	Limit   uint64
}
