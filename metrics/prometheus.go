package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter: Total orders received
	OrdersReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_received_total",
			Help: "Total number of orders received by the matching engine",
		},
		[]string{"symbol", "side", "type"},
	)

	// Counter: Total orders matched
	OrdersMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_matched_total",
			Help: "Total number of orders successfully matched",
		},
		[]string{"symbol", "side"},
	)

	// Counter: Total orders rejected
	OrdersRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of orders rejected due to validation or other errors",
		},
		[]string{"symbol", "reason"},
	)

	// Counter: Stop orders triggered and released to the book
	StopsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stops_triggered_total",
			Help: "Total number of stop orders triggered by a last-price move",
		},
		[]string{"symbol", "side"},
	)

	// Counter: Trades that failed settlement re-validation and were discarded
	SettlementFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_faults_total",
			Help: "Total number of trades discarded because settlement re-validation failed",
		},
		[]string{"symbol"},
	)

	// Histogram: Order processing latency
	OrderLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_latency_seconds",
			Help:    "Time taken to process an order from receipt to execution",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3.2s
		},
		[]string{"symbol", "type"},
	)

	// Gauge: Current orderbook depth (total orders)
	CurrentOrderbookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "current_orderbook_depth",
			Help: "Current number of orders in the orderbook",
		},
		[]string{"symbol", "side"},
	)

	// Gauge: Best bid/ask prices
	BestBidPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "best_bid_price",
			Help: "Current best bid price in the orderbook",
		},
		[]string{"symbol"},
	)

	BestAskPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "best_ask_price",
			Help: "Current best ask price in the orderbook",
		},
		[]string{"symbol"},
	)

	// Counter: Total trades executed
	TradesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trades_executed_total",
			Help: "Total number of trades executed",
		},
		[]string{"symbol"},
	)

	// Counter: Total volume traded
	TradedVolumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traded_volume_total",
			Help: "Total share volume traded",
		},
		[]string{"symbol"},
	)

	// Gauge: Spread (difference between best ask and best bid)
	OrderbookSpread = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_spread",
			Help: "Current spread between best bid and best ask",
		},
		[]string{"symbol"},
	)

	// Histogram: Trade size distribution
	TradeSizeDistribution = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trade_size_distribution",
			Help:    "Distribution of trade sizes in shares",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 to ~8192 shares
		},
		[]string{"symbol"},
	)
)

// RecordOrderReceived increments the orders_received_total counter
func RecordOrderReceived(symbol, side, orderType string) {
	OrdersReceivedTotal.WithLabelValues(symbol, side, orderType).Inc()
}

// RecordOrderMatched increments the orders_matched_total counter
func RecordOrderMatched(symbol, side string) {
	OrdersMatchedTotal.WithLabelValues(symbol, side).Inc()
}

// RecordOrderRejected increments the orders_rejected_total counter
func RecordOrderRejected(symbol, reason string) {
	OrdersRejectedTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordStopTriggered increments the stops_triggered_total counter
func RecordStopTriggered(symbol, side string) {
	StopsTriggeredTotal.WithLabelValues(symbol, side).Inc()
}

// RecordSettlementFault increments the settlement_faults_total counter
func RecordSettlementFault(symbol string) {
	SettlementFaultsTotal.WithLabelValues(symbol).Inc()
}

// RecordOrderLatency records the time taken to process an order
func RecordOrderLatency(symbol, orderType string, seconds float64) {
	OrderLatencySeconds.WithLabelValues(symbol, orderType).Observe(seconds)
}

// UpdateOrderbookDepth updates the current orderbook depth gauge
func UpdateOrderbookDepth(symbol, side string, depth float64) {
	CurrentOrderbookDepth.WithLabelValues(symbol, side).Set(depth)
}

// UpdateBestPrices updates best bid/ask prices
func UpdateBestPrices(symbol string, bestBid, bestAsk float64) {
	if bestBid > 0 {
		BestBidPrice.WithLabelValues(symbol).Set(bestBid)
	}
	if bestAsk > 0 {
		BestAskPrice.WithLabelValues(symbol).Set(bestAsk)
	}
	if bestBid > 0 && bestAsk > 0 {
		OrderbookSpread.WithLabelValues(symbol).Set(bestAsk - bestBid)
	}
}

// RecordTrade records a trade execution
func RecordTrade(symbol string, quantity float64) {
	TradesExecutedTotal.WithLabelValues(symbol).Inc()
	TradedVolumeTotal.WithLabelValues(symbol).Add(quantity)
	TradeSizeDistribution.WithLabelValues(symbol).Observe(quantity)
}
