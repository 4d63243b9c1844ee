package engine

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/models"
)

// StopBook parks stop orders outside the order book until their trigger
// price is crossed. Accessed only by the matching worker, so it carries no
// locking of its own.
type StopBook struct {
	buys  map[uuid.UUID]*models.Order
	sells map[uuid.UUID]*models.Order
}

func NewStopBook() *StopBook {
	return &StopBook{
		buys:  make(map[uuid.UUID]*models.Order),
		sells: make(map[uuid.UUID]*models.Order),
	}
}

// Park holds a stop order until triggered
func (sb *StopBook) Park(order *models.Order) {
	if order.Side == models.OrderSideBuy {
		sb.buys[order.ID] = order
	} else {
		sb.sells[order.ID] = order
	}
}

// Remove extracts a parked stop, returning nil if it is not parked
func (sb *StopBook) Remove(orderID uuid.UUID) *models.Order {
	if order, ok := sb.buys[orderID]; ok {
		delete(sb.buys, orderID)
		return order
	}
	if order, ok := sb.sells[orderID]; ok {
		delete(sb.sells, orderID)
		return order
	}
	return nil
}

// ShouldTrigger reports whether lastPrice crosses the order's stop trigger.
// A buy stop fires at or above its trigger, a sell stop at or below.
func (sb *StopBook) ShouldTrigger(order *models.Order, lastPrice decimal.Decimal) bool {
	if lastPrice.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if order.Side == models.OrderSideBuy {
		return lastPrice.GreaterThanOrEqual(order.StopPrice)
	}
	return lastPrice.LessThanOrEqual(order.StopPrice)
}

// Triggered removes and returns every parked stop whose trigger lastPrice
// crosses, in admission order.
func (sb *StopBook) Triggered(lastPrice decimal.Decimal) []*models.Order {
	var triggered []*models.Order

	for id, order := range sb.buys {
		if sb.ShouldTrigger(order, lastPrice) {
			triggered = append(triggered, order)
			delete(sb.buys, id)
		}
	}
	for id, order := range sb.sells {
		if sb.ShouldTrigger(order, lastPrice) {
			triggered = append(triggered, order)
			delete(sb.sells, id)
		}
	}

	sort.Slice(triggered, func(i, j int) bool {
		return triggered[i].Sequence < triggered[j].Sequence
	})

	return triggered
}

// Len returns the number of parked stops on both sides
func (sb *StopBook) Len() int {
	return len(sb.buys) + len(sb.sells)
}
