package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order (buy or sell)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order (limit, market or stop)
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus represents the current status of an order
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order represents a trading order in the system.
// Price is meaningful for limit orders and stop-limit orders; a stop order
// with a zero Price converts to a market order when triggered. StopPrice is
// set iff Type is stop.
type Order struct {
	ID             uuid.UUID       `json:"id" db:"order_id"`
	ShareholderID  string          `json:"shareholder_id" db:"shareholder_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           OrderSide       `json:"side" db:"side"`
	Type           OrderType       `json:"type" db:"type"`
	Price          decimal.Decimal `json:"price" db:"price"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty" db:"stop_price"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	FilledQuantity int64           `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus     `json:"status" db:"status"`
	// Sequence is assigned by the engine at admission and is the FIFO
	// tie-break within a price level. Zero until admitted.
	Sequence  uint64    `json:"sequence" db:"sequence"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewOrder creates a new Order instance with default values
func NewOrder(shareholderID, symbol string, side OrderSide, orderType OrderType, price decimal.Decimal, quantity int64) *Order {
	now := time.Now()
	return &Order{
		ID:            uuid.New(),
		ShareholderID: shareholderID,
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Price:         price,
		Quantity:      quantity,
		Status:        OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewStopOrder creates a stop order. A positive limitPrice makes it a
// stop-limit order; a zero limitPrice makes it a stop-market order.
func NewStopOrder(shareholderID, symbol string, side OrderSide, stopPrice, limitPrice decimal.Decimal, quantity int64) *Order {
	o := NewOrder(shareholderID, symbol, side, OrderTypeStop, limitPrice, quantity)
	o.StopPrice = stopPrice
	return o
}

// IsValid validates the order fields
func (o *Order) IsValid() bool {
	if o.ShareholderID == "" || o.Symbol == "" {
		return false
	}

	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return false
	}

	if o.Type != OrderTypeLimit && o.Type != OrderTypeMarket && o.Type != OrderTypeStop {
		return false
	}

	if o.Quantity <= 0 {
		return false
	}

	// Limit orders require a positive limit price
	if o.Type == OrderTypeLimit && o.Price.LessThanOrEqual(decimal.Zero) {
		return false
	}

	// Stop orders require a positive trigger price
	if o.Type == OrderTypeStop && o.StopPrice.LessThanOrEqual(decimal.Zero) {
		return false
	}

	if o.FilledQuantity > o.Quantity {
		return false
	}

	return true
}

// RemainingQuantity returns the unfilled quantity of the order
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled checks if the order is completely filled
func (o *Order) IsFilled() bool {
	return o.FilledQuantity == o.Quantity
}

// IsPartiallyFilled checks if the order is partially filled
func (o *Order) IsPartiallyFilled() bool {
	return o.FilledQuantity > 0 && o.FilledQuantity < o.Quantity
}

// IsTerminal reports whether the order can no longer change state
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled || o.Status == OrderStatusRejected
}

// CanBeFilled checks if the order can be filled (is open or partially filled)
func (o *Order) CanBeFilled() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// Fill updates the order with a fill amount
func (o *Order) Fill(quantity int64) {
	o.FilledQuantity += quantity
	o.UpdatedAt = time.Now()

	if o.IsFilled() {
		o.Status = OrderStatusFilled
	} else if o.IsPartiallyFilled() {
		o.Status = OrderStatusPartiallyFilled
	}
}

// Cancel marks the order as cancelled
func (o *Order) Cancel() {
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now()
}

// Reject marks the order as rejected
func (o *Order) Reject() {
	o.Status = OrderStatusRejected
	o.UpdatedAt = time.Now()
}

// Notional returns limit price times remaining quantity. Zero for market
// orders, which carry no price reference of their own.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.RemainingQuantity()))
}
