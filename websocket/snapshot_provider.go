package websocket

import (
	"context"
	"log"
	"time"

	"github.com/marketsim/exchange/marketdata"
	"github.com/marketsim/exchange/persistence"
)

// SnapshotProvider builds the initial state a client receives on subscribe.
// Quotes and recent trades come from the in-memory feed; the per-shareholder
// orders snapshot comes from the database.
type SnapshotProvider struct {
	feed  *marketdata.Feed
	store *persistence.PostgresStore
}

func NewSnapshotProvider(feed *marketdata.Feed, store *persistence.PostgresStore) *SnapshotProvider {
	return &SnapshotProvider{
		feed:  feed,
		store: store,
	}
}

func (sp *SnapshotProvider) GetQuotesSnapshot() *QuotesSnapshot {
	quotes := sp.feed.Quotes()

	snapshot := &QuotesSnapshot{
		Quotes:    make([]QuoteMessage, 0, len(quotes)),
		Count:     len(quotes),
		Timestamp: time.Now().UnixMilli(),
	}

	for _, quote := range quotes {
		snapshot.Quotes = append(snapshot.Quotes, QuoteMessage{
			Symbol:        quote.Symbol,
			LastPrice:     quote.LastPrice,
			BestBid:       quote.BestBid,
			BestBidSize:   quote.BestBidSize,
			BestAsk:       quote.BestAsk,
			BestAskSize:   quote.BestAskSize,
			SessionVolume: quote.SessionVolume,
			Timestamp:     quote.UpdatedAt.UnixMilli(),
		})
	}

	return snapshot
}

func (sp *SnapshotProvider) GetTradesSnapshot(symbol string, limit int) *TradesSnapshot {
	snapshot := &TradesSnapshot{
		Symbol:    symbol,
		Trades:    []TradeMessage{},
		Timestamp: time.Now().UnixMilli(),
	}

	if symbol == "" {
		return snapshot
	}

	trades, err := sp.feed.RecentTrades(symbol, limit)
	if err != nil {
		log.Printf("Error fetching trades snapshot: %v", err)
		return snapshot
	}

	for _, trade := range trades {
		snapshot.Trades = append(snapshot.Trades, TradeMessage{
			TradeID:   trade.TradeID,
			Symbol:    trade.Symbol,
			Price:     trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: trade.Timestamp.UnixMilli(),
		})
	}
	snapshot.Count = len(snapshot.Trades)

	return snapshot
}

// GetOrdersSnapshot returns recent orders for a specific shareholder
func (sp *SnapshotProvider) GetOrdersSnapshot(shareholderID string) *OrdersSnapshot {
	snapshot := &OrdersSnapshot{
		ShareholderID: shareholderID,
		Orders:        []OrderMessage{},
		Timestamp:     time.Now().UnixMilli(),
	}

	if sp.store == nil || shareholderID == "" {
		return snapshot
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	orders, err := sp.store.GetOrdersByShareholder(ctx, shareholderID, 50)
	if err != nil {
		log.Printf("Error fetching orders snapshot: %v", err)
		return snapshot
	}

	for _, order := range orders {
		snapshot.Orders = append(snapshot.Orders, OrderMessage{
			OrderID:           order.ID.String(),
			ShareholderID:     order.ShareholderID,
			Symbol:            order.Symbol,
			Side:              string(order.Side),
			Type:              string(order.Type),
			Status:            string(order.Status),
			Price:             order.Price,
			Quantity:          order.Quantity,
			FilledQuantity:    order.FilledQuantity,
			RemainingQuantity: order.RemainingQuantity(),
			Timestamp:         order.UpdatedAt.UnixMilli(),
		})
	}
	snapshot.Count = len(snapshot.Orders)

	return snapshot
}
