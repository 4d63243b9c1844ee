package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/engine"
)

// TradeTick is one executed trade as published on the feed
type TradeTick struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// Quote is a top-of-book and last-price snapshot for one symbol
type Quote struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestBidSize   int64           `json:"best_bid_size"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	BestAskSize   int64           `json:"best_ask_size"`
	SessionVolume int64           `json:"session_volume"`
	TradeCount    int64           `json:"trade_count"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Publisher receives feed updates for fan-out to an external transport
// (websocket hub, redis pub/sub). Implementations must not block.
type Publisher interface {
	PublishTrade(tick TradeTick)
	PublishQuote(quote Quote)
}

// tradeHistorySize bounds the per-symbol recent-trade ring
const tradeHistorySize = 200

type symbolState struct {
	quote  Quote
	trades []TradeTick // ring, newest last
}

// Feed maintains per-symbol market data derived from engine events: last
// trade price, best bid/ask with sizes, cumulative session volume and a
// bounded recent-trade history. Reads are serviced from the feed's own
// state so API traffic never touches the matching worker.
type Feed struct {
	engines    map[string]*engine.MatchingEngine
	symbols    map[string]*symbolState
	publishers []Publisher
	mu         sync.RWMutex
}

func NewFeed() *Feed {
	return &Feed{
		engines: make(map[string]*engine.MatchingEngine),
		symbols: make(map[string]*symbolState),
	}
}

// AddPublisher registers a downstream transport. Must be called before
// Attach so no update is missed.
func (f *Feed) AddPublisher(p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers = append(f.publishers, p)
}

// Attach subscribes the feed to one engine's event stream and seeds the
// symbol's quote from the engine's current state.
func (f *Feed) Attach(me *engine.MatchingEngine) {
	symbol := me.Symbol()

	f.mu.Lock()
	f.engines[symbol] = me
	f.symbols[symbol] = &symbolState{
		quote: Quote{
			Symbol:    symbol,
			LastPrice: me.LastPrice(),
			UpdatedAt: time.Now(),
		},
	}
	f.mu.Unlock()

	me.SubscribeToEvents(engine.EventTypeNewTrade, f.onTrade)
	me.SubscribeToEvents(engine.EventTypeOrderbookChange, f.onBookChange)
}

func (f *Feed) onTrade(event engine.Event) {
	trade, ok := event.Data.(engine.NewTradeEvent)
	if !ok {
		return
	}

	tick := TradeTick{
		TradeID:   trade.TradeID.String(),
		Symbol:    trade.Symbol,
		Price:     trade.Price,
		Quantity:  trade.Quantity,
		Timestamp: trade.Timestamp,
	}

	f.mu.Lock()
	state, tracked := f.symbols[trade.Symbol]
	if !tracked {
		f.mu.Unlock()
		return
	}

	state.quote.LastPrice = trade.Price
	state.quote.SessionVolume += trade.Quantity
	state.quote.TradeCount++
	state.quote.UpdatedAt = trade.Timestamp

	state.trades = append(state.trades, tick)
	if len(state.trades) > tradeHistorySize {
		state.trades = state.trades[len(state.trades)-tradeHistorySize:]
	}

	f.refreshTopOfBook(trade.Symbol, state)
	quote := state.quote
	publishers := f.publishers
	f.mu.Unlock()

	for _, p := range publishers {
		p.PublishTrade(tick)
		p.PublishQuote(quote)
	}
}

func (f *Feed) onBookChange(event engine.Event) {
	change, ok := event.Data.(engine.OrderbookChangeEvent)
	if !ok {
		return
	}

	f.mu.Lock()
	state, tracked := f.symbols[change.Symbol]
	if !tracked {
		f.mu.Unlock()
		return
	}

	f.refreshTopOfBook(change.Symbol, state)
	state.quote.UpdatedAt = change.Timestamp
	quote := state.quote
	publishers := f.publishers
	f.mu.Unlock()

	for _, p := range publishers {
		p.PublishQuote(quote)
	}
}

// refreshTopOfBook re-reads best bid/ask from the book. Caller holds f.mu.
func (f *Feed) refreshTopOfBook(symbol string, state *symbolState) {
	me, tracked := f.engines[symbol]
	if !tracked {
		return
	}

	book := me.GetOrderBook()

	state.quote.BestBid = decimal.Zero
	state.quote.BestBidSize = 0
	state.quote.BestAsk = decimal.Zero
	state.quote.BestAskSize = 0

	if bid, ok := book.BestBid(); ok {
		state.quote.BestBid = bid.Price
		state.quote.BestBidSize = bid.Quantity
	}
	if ask, ok := book.BestAsk(); ok {
		state.quote.BestAsk = ask.Price
		state.quote.BestAskSize = ask.Quantity
	}
}

// GetQuote returns the current snapshot for one symbol
func (f *Feed) GetQuote(symbol string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state, tracked := f.symbols[symbol]
	if !tracked {
		return Quote{}, fmt.Errorf("%w: %s", engine.ErrUnknownInstrument, symbol)
	}
	return state.quote, nil
}

// Quotes returns snapshots for every tracked symbol
func (f *Feed) Quotes() []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()

	quotes := make([]Quote, 0, len(f.symbols))
	for _, state := range f.symbols {
		quotes = append(quotes, state.quote)
	}
	return quotes
}

// RecentTrades returns up to limit most recent trades for a symbol,
// newest last.
func (f *Feed) RecentTrades(symbol string, limit int) ([]TradeTick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state, tracked := f.symbols[symbol]
	if !tracked {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownInstrument, symbol)
	}

	trades := state.trades
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}

	out := make([]TradeTick, len(trades))
	copy(out, trades)
	return out, nil
}

// Depth returns aggregated book depth for a symbol, top n levels per side
func (f *Feed) Depth(symbol string, n int) ([]engine.DepthLevel, []engine.DepthLevel, error) {
	f.mu.RLock()
	me, tracked := f.engines[symbol]
	f.mu.RUnlock()

	if !tracked {
		return nil, nil, fmt.Errorf("%w: %s", engine.ErrUnknownInstrument, symbol)
	}

	bids, asks := me.GetOrderBook().Depth(n)
	return bids, asks, nil
}
