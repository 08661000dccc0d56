package orders

import (
	"testing"
	"unicode/utf8"
)

func TestSuffix(t *testing.T) {
	tests := []struct {
		name     string
		orderID  string
		expected string
	}{
		{name: "long id takes last six", orderID: "ord_abc123", expected: "ABC123"},
		{name: "exactly six", orderID: "xyz789", expected: "XYZ789"},
		{name: "short id kept whole", orderID: "ab1", expected: "AB1"},
		{name: "spaces trimmed", orderID: " ord_abc123 ", expected: "ABC123"},
		{name: "empty", orderID: "", expected: ""},
		{name: "multibyte runes kept whole", orderID: "заказ_ёжик12", expected: "ЁЖИК12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suffix(tt.orderID)
			if got != tt.expected {
				t.Errorf("Suffix(%q) = %q, want %q", tt.orderID, got, tt.expected)
			}
			if !utf8.ValidString(ThreadName(tt.orderID)) {
				t.Errorf("ThreadName(%q) is not valid UTF-8", tt.orderID)
			}
		})
	}
}

func TestMatchesThread(t *testing.T) {
	if !MatchesThread("Order-ABC123", "ord_abc123") {
		t.Error("expected Order-ABC123 to match ord_abc123")
	}
	if !MatchesThread("order-abc123-old", "ord_abc123") {
		t.Error("match must be case-insensitive")
	}
	if MatchesThread("Order-ABC124", "ord_abc123") {
		t.Error("different suffix must not match")
	}
	if MatchesThread("Order-ABC123", "") {
		t.Error("empty order id must never match")
	}
	if got := ThreadName("ord_abc123"); got != "Order-ABC123" {
		t.Errorf("ThreadName = %q, want Order-ABC123", got)
	}
}

func TestPricing(t *testing.T) {
	tests := []struct {
		name         string
		order        Order
		wantDiscount bool
		wantOriginal string
		wantSavings  string
	}{
		{
			name:         "discount derives original price",
			order:        Order{TotalPaid: 1999, DiscountAmount: 500},
			wantDiscount: true,
			wantOriginal: "$24.99",
			wantSavings:  "$5.00",
		},
		{
			name:         "explicit original price wins",
			order:        Order{TotalPaid: 1999, DiscountAmount: 500, OriginalPrice: 2500},
			wantDiscount: true,
			wantOriginal: "$25.00",
			wantSavings:  "$5.01",
		},
		{
			name:         "no discount",
			order:        Order{TotalPaid: 1000},
			wantDiscount: false,
			wantOriginal: "$10.00",
			wantSavings:  "$0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.HasDiscount(); got != tt.wantDiscount {
				t.Errorf("HasDiscount = %v, want %v", got, tt.wantDiscount)
			}
			if got := tt.order.Original().String(); got != tt.wantOriginal {
				t.Errorf("Original = %s, want %s", got, tt.wantOriginal)
			}
			if got := tt.order.Savings().String(); got != tt.wantSavings {
				t.Errorf("Savings = %s, want %s", got, tt.wantSavings)
			}
		})
	}
}

func TestProductSummary(t *testing.T) {
	o := Order{Items: []Item{{Name: "Dragon", Quantity: 2}, {Name: "Sword", Quantity: 1}}}
	if got := o.ProductSummary(); got != "2x Dragon, Sword" {
		t.Errorf("ProductSummary = %q", got)
	}
	o.Product = "Bundle"
	if got := o.ProductSummary(); got != "Bundle" {
		t.Errorf("explicit product must win, got %q", got)
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "19.99", expected: "$19.99"},
		{input: "$5", expected: "$5.00"},
		{input: "1,019.5", expected: "$1019.50"},
		{input: "", expected: "$0.00"},
	}
	for _, tt := range tests {
		m, err := ParseMoney(tt.input)
		if err != nil {
			t.Fatalf("ParseMoney(%q): %v", tt.input, err)
		}
		if m.String() != tt.expected {
			t.Errorf("ParseMoney(%q) = %s, want %s", tt.input, m, tt.expected)
		}
	}
	if _, err := ParseMoney("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
	if got := MoneyFromFloat(19.99 + 5.00).String(); got != "$24.99" {
		t.Errorf("float rounding: got %s", got)
	}
}
