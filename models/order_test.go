package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewOrder(t *testing.T) {
	order := NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromInt(10), 100)

	if order.ID.String() == "" {
		t.Error("Expected order to have an ID")
	}
	if order.Status != OrderStatusOpen {
		t.Errorf("Expected status open, got %s", order.Status)
	}
	if order.FilledQuantity != 0 {
		t.Errorf("Expected zero filled quantity, got %d", order.FilledQuantity)
	}
	if order.RemainingQuantity() != 100 {
		t.Errorf("Expected remaining quantity 100, got %d", order.RemainingQuantity())
	}
}

func TestOrderValidation(t *testing.T) {
	tests := []struct {
		name  string
		order *Order
		valid bool
	}{
		{
			name:  "valid limit buy",
			order: NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromFloat(10.50), 100),
			valid: true,
		},
		{
			name:  "valid market sell",
			order: NewOrder("sh-1", "ACME", OrderSideSell, OrderTypeMarket, decimal.Zero, 50),
			valid: true,
		},
		{
			name:  "valid stop sell",
			order: NewStopOrder("sh-1", "ACME", OrderSideSell, decimal.NewFromInt(9), decimal.Zero, 50),
			valid: true,
		},
		{
			name:  "missing shareholder",
			order: NewOrder("", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromInt(10), 100),
			valid: false,
		},
		{
			name:  "missing symbol",
			order: NewOrder("sh-1", "", OrderSideBuy, OrderTypeLimit, decimal.NewFromInt(10), 100),
			valid: false,
		},
		{
			name:  "zero quantity",
			order: NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromInt(10), 0),
			valid: false,
		},
		{
			name:  "negative quantity",
			order: NewOrder("sh-1", "ACME", OrderSideSell, OrderTypeMarket, decimal.Zero, -5),
			valid: false,
		},
		{
			name:  "limit order without price",
			order: NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.Zero, 100),
			valid: false,
		},
		{
			name:  "stop order without trigger",
			order: NewStopOrder("sh-1", "ACME", OrderSideSell, decimal.Zero, decimal.Zero, 100),
			valid: false,
		},
		{
			name:  "invalid side",
			order: NewOrder("sh-1", "ACME", OrderSide("hold"), OrderTypeLimit, decimal.NewFromInt(10), 100),
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestOrderFillTransitions(t *testing.T) {
	order := NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromInt(10), 100)

	order.Fill(40)
	if order.Status != OrderStatusPartiallyFilled {
		t.Errorf("Expected partially_filled after partial fill, got %s", order.Status)
	}
	if order.RemainingQuantity() != 60 {
		t.Errorf("Expected remaining 60, got %d", order.RemainingQuantity())
	}
	if order.IsTerminal() {
		t.Error("Partially filled order should not be terminal")
	}

	order.Fill(60)
	if order.Status != OrderStatusFilled {
		t.Errorf("Expected filled after full fill, got %s", order.Status)
	}
	if order.RemainingQuantity() != 0 {
		t.Errorf("Expected remaining 0, got %d", order.RemainingQuantity())
	}
	if !order.IsTerminal() {
		t.Error("Filled order should be terminal")
	}
}

func TestOrderCancelIsTerminal(t *testing.T) {
	order := NewOrder("sh-1", "ACME", OrderSideSell, OrderTypeLimit, decimal.NewFromInt(12), 10)
	order.Cancel()

	if order.Status != OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", order.Status)
	}
	if !order.IsTerminal() {
		t.Error("Cancelled order should be terminal")
	}
	if order.CanBeFilled() {
		t.Error("Cancelled order should not be fillable")
	}
}

func TestOrderNotional(t *testing.T) {
	order := NewOrder("sh-1", "ACME", OrderSideBuy, OrderTypeLimit, decimal.NewFromFloat(10.50), 100)

	if !order.Notional().Equal(decimal.NewFromInt(1050)) {
		t.Errorf("Expected notional 1050, got %s", order.Notional())
	}

	order.Fill(50)
	if !order.Notional().Equal(decimal.NewFromInt(525)) {
		t.Errorf("Expected notional 525 after partial fill, got %s", order.Notional())
	}
}
