package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/models"
)

func restingOrder(side models.OrderSide, price string, quantity int64) *models.Order {
	return models.NewOrder("trader", "ACME", side, models.OrderTypeLimit,
		decimal.RequireFromString(price), quantity)
}

func TestOrderBook_InsertAndBest(t *testing.T) {
	ob := NewOrderBook("ACME")

	if _, ok := ob.BestBid(); ok {
		t.Fatal("empty book should have no best bid")
	}

	bids := []*models.Order{
		restingOrder(models.OrderSideBuy, "100", 10),
		restingOrder(models.OrderSideBuy, "101", 5),
		restingOrder(models.OrderSideBuy, "99", 20),
	}
	for _, o := range bids {
		if err := ob.Insert(o); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	bid, ok := ob.BestBid()
	if !ok {
		t.Fatal("expected a best bid")
	}
	if bid.Price.String() != "101" {
		t.Errorf("best bid = %s, want 101", bid.Price)
	}
	if bid.Quantity != 5 {
		t.Errorf("best bid quantity = %d, want 5", bid.Quantity)
	}

	ask := restingOrder(models.OrderSideSell, "102", 7)
	if err := ob.Insert(ask); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	best, ok := ob.BestAsk()
	if !ok || best.Price.String() != "102" {
		t.Errorf("best ask = %v, want 102", best.Price)
	}

	if spread := ob.GetSpread(); spread.String() != "1" {
		t.Errorf("spread = %s, want 1", spread)
	}
	if ob.IsCrossed() {
		t.Error("book should not be crossed")
	}
	if ob.Size() != 4 {
		t.Errorf("size = %d, want 4", ob.Size())
	}
}

func TestOrderBook_InsertRejectsInvalid(t *testing.T) {
	ob := NewOrderBook("ACME")

	noQty := restingOrder(models.OrderSideBuy, "100", 10)
	noQty.Fill(10)
	if err := ob.Insert(noQty); err == nil {
		t.Error("expected error inserting fully filled order")
	}

	noPrice := models.NewOrder("trader", "ACME", models.OrderSideBuy,
		models.OrderTypeLimit, decimal.Zero, 10)
	if err := ob.Insert(noPrice); err == nil {
		t.Error("expected error inserting order without a price")
	}
}

func TestOrderBook_Remove(t *testing.T) {
	ob := NewOrderBook("ACME")

	order := restingOrder(models.OrderSideBuy, "100", 10)
	if err := ob.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := ob.Remove(order.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.ID != order.ID {
		t.Error("removed wrong order")
	}
	if ob.Size() != 0 {
		t.Errorf("size = %d after remove, want 0", ob.Size())
	}
	if _, ok := ob.BestBid(); ok {
		t.Error("price level should be gone after removing its only order")
	}

	if _, err := ob.Remove(uuid.New()); err == nil {
		t.Error("expected ErrNotFound removing unknown order")
	}
}

func TestOrderBook_ReduceDropsFilledOrders(t *testing.T) {
	ob := NewOrderBook("ACME")

	order := restingOrder(models.OrderSideSell, "100", 10)
	if err := ob.Insert(order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	order.Fill(4)
	if err := ob.Reduce(order.ID, 4); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	ask, ok := ob.BestAsk()
	if !ok || ask.Quantity != 6 {
		t.Errorf("level quantity = %d after partial fill, want 6", ask.Quantity)
	}

	order.Fill(6)
	if err := ob.Reduce(order.ID, 6); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	if ob.Size() != 0 {
		t.Errorf("size = %d after full fill, want 0", ob.Size())
	}
	if _, ok := ob.BestAsk(); ok {
		t.Error("emptied level should be dropped")
	}
}

func TestOrderBook_Depth(t *testing.T) {
	ob := NewOrderBook("ACME")

	for _, o := range []*models.Order{
		restingOrder(models.OrderSideBuy, "100", 10),
		restingOrder(models.OrderSideBuy, "100", 5),
		restingOrder(models.OrderSideBuy, "99", 20),
		restingOrder(models.OrderSideSell, "101", 8),
		restingOrder(models.OrderSideSell, "103", 3),
	} {
		if err := ob.Insert(o); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	bids, asks := ob.Depth(10)

	if len(bids) != 2 {
		t.Fatalf("bid levels = %d, want 2", len(bids))
	}
	if bids[0].Price.String() != "100" || bids[0].Quantity != 15 || bids[0].Orders != 2 {
		t.Errorf("top bid level = %+v, want 100 x 15 with 2 orders", bids[0])
	}
	if bids[1].Price.String() != "99" {
		t.Errorf("second bid level = %s, want 99 (descending)", bids[1].Price)
	}

	if len(asks) != 2 {
		t.Fatalf("ask levels = %d, want 2", len(asks))
	}
	if asks[0].Price.String() != "101" {
		t.Errorf("top ask level = %s, want 101 (ascending)", asks[0].Price)
	}

	// Truncation.
	bids, _ = ob.Depth(1)
	if len(bids) != 1 {
		t.Errorf("bid levels = %d with n=1, want 1", len(bids))
	}
}

func TestOrderBook_FIFOWithinLevel(t *testing.T) {
	ob := NewOrderBook("ACME")

	first := restingOrder(models.OrderSideSell, "100", 5)
	second := restingOrder(models.OrderSideSell, "100", 5)

	if err := ob.Insert(first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ob.Insert(second); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	top := ob.PeekTop(models.OrderSideSell)
	if top == nil || top.ID != first.ID {
		t.Error("earliest insert should be at the front of the level")
	}

	if _, err := ob.Remove(first.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	top = ob.PeekTop(models.OrderSideSell)
	if top == nil || top.ID != second.ID {
		t.Error("second order should move to the front")
	}
}

func TestOrderBook_BidAskDepthCounts(t *testing.T) {
	ob := NewOrderBook("ACME")

	for range [3]struct{}{} {
		if err := ob.Insert(restingOrder(models.OrderSideBuy, "100", 1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := ob.Insert(restingOrder(models.OrderSideSell, "101", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if got := ob.BidDepth(); got != 3 {
		t.Errorf("BidDepth = %d, want 3", got)
	}
	if got := ob.AskDepth(); got != 1 {
		t.Errorf("AskDepth = %d, want 1", got)
	}
}
