package orders

import (
	"fmt"
	"strings"
	"time"
)

const suffixLen = 6

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Order is the canonical order value produced at the ingress boundary.
// Alternate payload spellings never reach past DecodePayload.
type Order struct {
	ID             string
	UserID         string
	Email          string
	Product        string
	Items          []Item
	RobloxUsername string
	TotalPaid      Money
	DiscountAmount Money
	OriginalPrice  Money
	OrderDate      time.Time
	Promo          *PromoCode
	Affiliate      *AffiliateCode
	Status         Status
	ThreadID       string
}

type Item struct {
	Name     string
	Quantity int
	Price    Money
}

type PromoCode struct {
	Code     string
	Discount string
	Type     string
}

type AffiliateCode struct {
	Code     string
	Username string
	Discount string
}

// Suffix returns the last six characters of orderID, uppercased.
func Suffix(orderID string) string {
	id := []rune(strings.TrimSpace(orderID))
	if len(id) > suffixLen {
		id = id[len(id)-suffixLen:]
	}
	return strings.ToUpper(string(id))
}

// ThreadName is the name of the private thread for orderID.
func ThreadName(orderID string) string {
	return "Order-" + Suffix(orderID)
}

// MatchesThread reports whether a thread name belongs to orderID.
func MatchesThread(threadName, orderID string) bool {
	suffix := Suffix(orderID)
	if suffix == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(threadName), suffix)
}

func (o Order) Suffix() string {
	return Suffix(o.ID)
}

// HasDiscount is true when a discount was applied to this order.
func (o Order) HasDiscount() bool {
	return o.DiscountAmount > 0 || (o.OriginalPrice > o.TotalPaid && o.OriginalPrice > 0)
}

// Original is the pre-discount price; derived from total + discount when the
// backend did not send it.
func (o Order) Original() Money {
	if o.OriginalPrice > 0 {
		return o.OriginalPrice
	}
	return o.TotalPaid + o.DiscountAmount
}

// Savings is original minus paid, never negative.
func (o Order) Savings() Money {
	s := o.Original() - o.TotalPaid
	if s < 0 {
		return 0
	}
	return s
}

// ProductSummary prefers the explicit product string, otherwise lists items.
func (o Order) ProductSummary() string {
	if o.Product != "" {
		return o.Product
	}
	if len(o.Items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Quantity > 1 {
			parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.Name))
		} else {
			parts = append(parts, it.Name)
		}
	}
	return strings.Join(parts, ", ")
}

// Merge overwrites fields of o with the non-empty fields of other.
func (o Order) Merge(other Order) Order {
	if other.UserID != "" {
		o.UserID = other.UserID
	}
	if other.Email != "" {
		o.Email = other.Email
	}
	if other.Product != "" {
		o.Product = other.Product
	}
	if len(other.Items) > 0 {
		o.Items = other.Items
	}
	if other.RobloxUsername != "" {
		o.RobloxUsername = other.RobloxUsername
	}
	if other.TotalPaid != 0 {
		o.TotalPaid = other.TotalPaid
	}
	if other.DiscountAmount != 0 {
		o.DiscountAmount = other.DiscountAmount
	}
	if other.OriginalPrice != 0 {
		o.OriginalPrice = other.OriginalPrice
	}
	if !other.OrderDate.IsZero() {
		o.OrderDate = other.OrderDate
	}
	if other.Promo != nil {
		o.Promo = other.Promo
	}
	if other.Affiliate != nil {
		o.Affiliate = other.Affiliate
	}
	if other.Status != "" {
		o.Status = other.Status
	}
	if other.ThreadID != "" {
		o.ThreadID = other.ThreadID
	}
	if other.ID != "" {
		o.ID = other.ID
	}
	return o
}
