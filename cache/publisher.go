package cache

import (
	"time"

	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/marketdata"
)

const quoteTTL = 24 * time.Hour

// FeedPublisher mirrors feed updates into Redis: the latest quote per
// symbol as a cached key, and every trade and quote on pub/sub channels
// for external consumers. Implements marketdata.Publisher.
type FeedPublisher struct {
	cache *RedisCache
	keys  *KeyBuilder
}

func NewFeedPublisher(cache *RedisCache, keys *KeyBuilder) *FeedPublisher {
	return &FeedPublisher{cache: cache, keys: keys}
}

func (fp *FeedPublisher) PublishTrade(tick marketdata.TradeTick) {
	channel := fp.keys.PubSubChannel("trades." + tick.Symbol)
	if err := fp.cache.Publish(channel, tick); err != nil {
		logging.LogDBError("publish_trade", "redis", err, map[string]interface{}{
			"trade_id": tick.TradeID,
			"symbol":   tick.Symbol,
		})
	}
}

func (fp *FeedPublisher) PublishQuote(quote marketdata.Quote) {
	if err := fp.cache.SetJSON(fp.keys.QuoteKey(quote.Symbol), quote, quoteTTL); err != nil {
		logging.LogDBError("cache_quote", "redis", err, map[string]interface{}{
			"symbol": quote.Symbol,
		})
	}

	channel := fp.keys.PubSubChannel("quotes." + quote.Symbol)
	if err := fp.cache.Publish(channel, quote); err != nil {
		logging.LogDBError("publish_quote", "redis", err, map[string]interface{}{
			"symbol": quote.Symbol,
		})
	}
}
