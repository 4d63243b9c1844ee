package websocket

import (
	"github.com/shopspring/decimal"
)

type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

type TradeMessage struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

type QuoteMessage struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestBidSize   int64           `json:"best_bid_size"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	BestAskSize   int64           `json:"best_ask_size"`
	SessionVolume int64           `json:"session_volume"`
	Timestamp     int64           `json:"timestamp"`
}

type OrderMessage struct {
	OrderID           string          `json:"order_id"`
	ShareholderID     string          `json:"shareholder_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int64           `json:"quantity"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	Timestamp         int64           `json:"timestamp"`
}

type QuotesSnapshot struct {
	Quotes    []QuoteMessage `json:"quotes"`
	Count     int            `json:"count"`
	Timestamp int64          `json:"timestamp"`
}

type TradesSnapshot struct {
	Symbol    string         `json:"symbol,omitempty"`
	Trades    []TradeMessage `json:"trades"`
	Count     int            `json:"count"`
	Timestamp int64          `json:"timestamp"`
}

type OrdersSnapshot struct {
	ShareholderID string         `json:"shareholder_id,omitempty"`
	Orders        []OrderMessage `json:"orders"`
	Count         int            `json:"count"`
	Timestamp     int64          `json:"timestamp"`
}
