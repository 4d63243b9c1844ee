package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/metrics"
	"github.com/marketsim/exchange/models"
)

// Trade represents a matched trade between two orders. The price is always
// the resting order's price: the aggressor takes the maker's price.
type Trade struct {
	TradeID     uuid.UUID       `json:"trade_id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notional returns price * quantity for the trade
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

type commandType int

const (
	commandSubmit commandType = iota
	commandCancel
	commandGet
)

// orderCommand is one unit of work for the matching worker
type orderCommand struct {
	kind     commandType
	order    *models.Order // submit
	orderID  uuid.UUID     // cancel
	response chan *CommandResponse
}

// CommandResponse carries the outcome of a submit or cancel back to the caller
type CommandResponse struct {
	Trades []*Trade
	Order  *models.Order
	Err    error
}

// MatchingEngine is the per-instrument matching core. A single worker
// goroutine owns the order book, the stop book and the order history; every
// submit and cancel is a message to that worker, so operations on one
// instrument never interleave and the book is never observed mid-match.
type MatchingEngine struct {
	orderBook   *OrderBook
	stops       *StopBook
	history     map[uuid.UUID]*models.Order
	lastPrice   decimal.Decimal
	sequence    uint64
	commandChan chan *orderCommand
	stopChan    chan struct{}
	wg          sync.WaitGroup
	isRunning   bool
	mu          sync.RWMutex

	eventBus *EventBus

	commandsProcessed uint64
}

// NewMatchingEngine creates an engine for one instrument. lastPrice seeds
// the stop-trigger reference before the first trade (the listing price).
func NewMatchingEngine(symbol string, lastPrice decimal.Decimal) *MatchingEngine {
	return &MatchingEngine{
		orderBook:   NewOrderBook(symbol),
		stops:       NewStopBook(),
		history:     make(map[uuid.UUID]*models.Order),
		lastPrice:   lastPrice,
		commandChan: make(chan *orderCommand, 1024),
		stopChan:    make(chan struct{}),
		eventBus:    NewEventBus(),
	}
}

func (me *MatchingEngine) Symbol() string {
	return me.orderBook.Symbol
}

func (me *MatchingEngine) GetEventBus() *EventBus {
	return me.eventBus
}

func (me *MatchingEngine) SubscribeToEvents(eventType EventType, listener EventListener) {
	me.eventBus.Subscribe(eventType, listener)
}

// Start launches the matching worker. The worker is the only goroutine that
// ever mutates the book: commands are processed strictly one at a time, so
// price-time priority and the no-crossed-book invariant hold between
// operations without locking inside the match loop.
func (me *MatchingEngine) Start(ctx context.Context) error {
	me.mu.Lock()
	if me.isRunning {
		me.mu.Unlock()
		return fmt.Errorf("matching engine for %s is already running", me.Symbol())
	}
	me.isRunning = true
	me.mu.Unlock()

	me.wg.Add(1)
	go me.matchingWorker(ctx)

	return nil
}

// Stop drains pending commands and shuts the worker down
func (me *MatchingEngine) Stop() error {
	me.mu.Lock()
	if !me.isRunning {
		me.mu.Unlock()
		return ErrEngineStopped
	}
	me.mu.Unlock()

	close(me.stopChan)
	me.wg.Wait()

	me.mu.Lock()
	me.isRunning = false
	me.mu.Unlock()

	return nil
}

// IsRunning returns whether the matching engine is currently running
func (me *MatchingEngine) IsRunning() bool {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.isRunning
}

func (me *MatchingEngine) matchingWorker(ctx context.Context) {
	defer me.wg.Done()

	for {
		select {
		case <-ctx.Done():
			me.drainCommands()
			return

		case <-me.stopChan:
			me.drainCommands()
			return

		case cmd := <-me.commandChan:
			me.processCommand(cmd)
		}
	}
}

// drainCommands processes any remaining commands in the channel before stopping
func (me *MatchingEngine) drainCommands() {
	for {
		select {
		case cmd := <-me.commandChan:
			me.processCommand(cmd)
		default:
			return
		}
	}
}

func (me *MatchingEngine) processCommand(cmd *orderCommand) {
	me.mu.Lock()
	me.commandsProcessed++
	me.mu.Unlock()

	var response *CommandResponse

	switch cmd.kind {
	case commandSubmit:
		trades, err := me.matchOrder(cmd.order)
		response = &CommandResponse{
			Trades: trades,
			Order:  cmd.order,
			Err:    err,
		}

	case commandCancel:
		order, err := me.cancelOrder(cmd.orderID)
		response = &CommandResponse{
			Order: order,
			Err:   err,
		}

	case commandGet:
		order, seen := me.history[cmd.orderID]
		response = &CommandResponse{Order: order}
		if !seen {
			response.Err = fmt.Errorf("%w: %s", ErrNotFound, cmd.orderID)
		}
	}

	if cmd.response != nil {
		cmd.response <- response
		close(cmd.response)
	}
}

// Submit hands a new order to the matching worker and blocks until the full
// matching pass for it has completed. The returned trades are in generation
// order.
func (me *MatchingEngine) Submit(order *models.Order) ([]*Trade, error) {
	resp, err := me.send(&orderCommand{kind: commandSubmit, order: order})
	if err != nil {
		return nil, err
	}
	return resp.Trades, resp.Err
}

// Cancel removes a resting or parked order. Returns ErrAlreadyTerminal when
// the order has already filled or been cancelled, ErrNotFound when the
// engine has never seen it.
func (me *MatchingEngine) Cancel(orderID uuid.UUID) (*models.Order, error) {
	resp, err := me.send(&orderCommand{kind: commandCancel, orderID: orderID})
	if err != nil {
		return nil, err
	}
	return resp.Order, resp.Err
}

func (me *MatchingEngine) send(cmd *orderCommand) (*CommandResponse, error) {
	me.mu.RLock()
	if !me.isRunning {
		me.mu.RUnlock()
		return nil, ErrEngineStopped
	}
	me.mu.RUnlock()

	cmd.response = make(chan *CommandResponse, 1)

	select {
	case me.commandChan <- cmd:
		return <-cmd.response, nil
	default:
		return nil, fmt.Errorf("command channel for %s is full", me.Symbol())
	}
}

// matchOrder runs the complete matching pass for one submission. Only ever
// called from the matching worker.
func (me *MatchingEngine) matchOrder(order *models.Order) ([]*Trade, error) {
	if !order.IsValid() {
		order.Reject()
		return nil, fmt.Errorf("%w: order failed validation", ErrInvalidOrder)
	}

	me.sequence++
	order.Sequence = me.sequence
	me.history[order.ID] = order

	// A stop order rests outside the book until the last trade price
	// crosses its trigger. If the current reference price already crosses
	// it, it converts and matches in this same pass.
	if order.Type == models.OrderTypeStop {
		if !me.stops.ShouldTrigger(order, me.lastPrice) {
			me.stops.Park(order)
			return nil, nil
		}
		me.convertStop(order)
	}

	var trades []*Trade
	var err error

	if order.Type == models.OrderTypeMarket {
		trades, err = me.matchMarketOrder(order)
	} else {
		trades = me.matchLimitOrder(order)
		if order.CanBeFilled() {
			if insertErr := me.orderBook.Insert(order); insertErr != nil {
				order.Reject()
				return trades, insertErr
			}
			me.publishOrderbookChange(order.Side, "add", order.Price, order.RemainingQuantity(), 0)
		}
	}

	me.updateOrderbookMetrics()

	for _, trade := range trades {
		me.publishTrade(trade)
	}

	// Stop triggers are evaluated against the last trade price after the
	// pass completes; each triggered stop resubmits through this same
	// matching loop exactly once.
	if len(trades) > 0 {
		stopTrades := me.fireTriggeredStops()
		trades = append(trades, stopTrades...)
	}

	return trades, err
}

// matchMarketOrder fills a market order against the best opposing levels.
// Unfillable remainder never rests: a wholly unfilled market order is
// rejected, a partially filled one has its remainder cancelled.
func (me *MatchingEngine) matchMarketOrder(order *models.Order) ([]*Trade, error) {
	trades := make([]*Trade, 0)

	for order.RemainingQuantity() > 0 {
		bestLevel := me.bestOpposing(order.Side)
		if bestLevel == nil {
			break
		}

		trades = append(trades, me.matchAgainstPriceLevel(order, bestLevel)...)
	}

	if len(trades) == 0 {
		order.Reject()
		return nil, fmt.Errorf("%w: no liquidity for market order", ErrInvalidOrder)
	}

	if order.RemainingQuantity() > 0 {
		order.Cancel()
	}

	return trades, nil
}

// matchLimitOrder fills a limit order while the top of the opposing side is
// price-compatible; the caller rests any remainder.
func (me *MatchingEngine) matchLimitOrder(order *models.Order) []*Trade {
	trades := make([]*Trade, 0)

	for order.RemainingQuantity() > 0 {
		bestLevel := me.bestOpposing(order.Side)
		if bestLevel == nil {
			break
		}

		// A limit buy crosses when its price >= best ask; a limit sell
		// when its price <= best bid.
		var canMatch bool
		if order.Side == models.OrderSideBuy {
			canMatch = order.Price.GreaterThanOrEqual(bestLevel.Price)
		} else {
			canMatch = order.Price.LessThanOrEqual(bestLevel.Price)
		}

		if !canMatch {
			break
		}

		trades = append(trades, me.matchAgainstPriceLevel(order, bestLevel)...)
	}

	return trades
}

func (me *MatchingEngine) bestOpposing(side models.OrderSide) *PriceLevel {
	if side == models.OrderSideBuy {
		return me.orderBook.GetBestAsk()
	}
	return me.orderBook.GetBestBid()
}

// matchAgainstPriceLevel walks the level's FIFO queue until either the
// aggressor or the level is exhausted. The trade price is always the
// resting order's price.
func (me *MatchingEngine) matchAgainstPriceLevel(aggressor *models.Order, priceLevel *PriceLevel) []*Trade {
	trades := make([]*Trade, 0)

	element := priceLevel.Orders.Front()
	for element != nil && aggressor.RemainingQuantity() > 0 {
		nextElement := element.Next()
		resting := element.Value.(*models.Order)

		matchQty := aggressor.RemainingQuantity()
		if resting.RemainingQuantity() < matchQty {
			matchQty = resting.RemainingQuantity()
		}

		trade := me.newTrade(aggressor, resting, priceLevel.Price, matchQty)

		aggressor.Fill(matchQty)
		resting.Fill(matchQty)

		// Reduce drops the resting order and an emptied level from the book
		_ = me.orderBook.Reduce(resting.ID, matchQty)
		if resting.IsFilled() {
			me.publishOrderbookChange(resting.Side, "remove", trade.Price, 0, matchQty)
		}

		me.setLastPrice(trade.Price)
		trades = append(trades, trade)

		element = nextElement
	}

	return trades
}

func (me *MatchingEngine) newTrade(aggressor, resting *models.Order, price decimal.Decimal, quantity int64) *Trade {
	trade := &Trade{
		TradeID:   uuid.New(),
		Symbol:    aggressor.Symbol,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.Now(),
	}

	if aggressor.Side == models.OrderSideBuy {
		trade.BuyOrderID = aggressor.ID
		trade.BuyerID = aggressor.ShareholderID
		trade.SellOrderID = resting.ID
		trade.SellerID = resting.ShareholderID
	} else {
		trade.BuyOrderID = resting.ID
		trade.BuyerID = resting.ShareholderID
		trade.SellOrderID = aggressor.ID
		trade.SellerID = aggressor.ShareholderID
	}

	return trade
}

// convertStop turns a triggered stop into the order type it resubmits as:
// stop-limit becomes a limit order at its limit price, plain stop becomes a
// market order.
func (me *MatchingEngine) convertStop(order *models.Order) {
	if order.Price.GreaterThan(decimal.Zero) {
		order.Type = models.OrderTypeLimit
	} else {
		order.Type = models.OrderTypeMarket
	}

	me.eventBus.Publish(Event{
		Type:      EventTypeStopTriggered,
		Timestamp: time.Now(),
		Data: StopTriggeredEvent{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			StopPrice: order.StopPrice,
			LastPrice: me.lastPrice,
			Timestamp: time.Now(),
		},
	})

	metrics.RecordStopTriggered(order.Symbol, string(order.Side))
}

// fireTriggeredStops converts and resubmits every parked stop whose trigger
// the last trade price has crossed. Fills from a resubmitted stop can move
// the last price and trigger further stops; each stop still converts at
// most once because conversion removes it from the stop book.
func (me *MatchingEngine) fireTriggeredStops() []*Trade {
	trades := make([]*Trade, 0)

	for {
		triggered := me.stops.Triggered(me.lastPrice)
		if len(triggered) == 0 {
			return trades
		}

		for _, stop := range triggered {
			me.convertStop(stop)

			var stopTrades []*Trade
			if stop.Type == models.OrderTypeMarket {
				// A triggered stop-market with no liquidity left is
				// cancelled rather than rejected: it was admitted long ago.
				levelTrades, err := me.matchMarketOrder(stop)
				if err != nil {
					stop.Cancel()
				}
				stopTrades = levelTrades
			} else {
				stopTrades = me.matchLimitOrder(stop)
				if stop.CanBeFilled() {
					if err := me.orderBook.Insert(stop); err == nil {
						me.publishOrderbookChange(stop.Side, "add", stop.Price, stop.RemainingQuantity(), 0)
					}
				}
			}

			for _, trade := range stopTrades {
				me.publishTrade(trade)
			}
			trades = append(trades, stopTrades...)
		}
	}
}

// cancelOrder resolves a cancel request. Exactly one of three outcomes:
// the order is resting or parked and becomes cancelled, it is already
// terminal, or it was never admitted.
func (me *MatchingEngine) cancelOrder(orderID uuid.UUID) (*models.Order, error) {
	if order, err := me.orderBook.Remove(orderID); err == nil {
		order.Cancel()
		me.publishOrderbookChange(order.Side, "remove", order.Price, 0, order.RemainingQuantity())
		me.updateOrderbookMetrics()
		me.publishCancelled(order)
		return order, nil
	}

	if order := me.stops.Remove(orderID); order != nil {
		order.Cancel()
		me.publishCancelled(order)
		return order, nil
	}

	if order, seen := me.history[orderID]; seen {
		if order.IsTerminal() {
			return order, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, orderID, order.Status)
		}
		// Admitted but neither resting nor parked: should be unreachable.
		return order, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
}

// GetOrder returns any order this engine has admitted, resting or not.
// The lookup runs on the matching worker so it never observes a half-applied
// match.
func (me *MatchingEngine) GetOrder(orderID uuid.UUID) (*models.Order, error) {
	resp, err := me.send(&orderCommand{kind: commandGet, orderID: orderID})
	if err != nil {
		return nil, err
	}
	return resp.Order, resp.Err
}

// setLastPrice is called only by the matching worker; the lock makes the
// write visible to concurrent LastPrice readers.
func (me *MatchingEngine) setLastPrice(price decimal.Decimal) {
	me.mu.Lock()
	me.lastPrice = price
	me.mu.Unlock()
}

// LastPrice returns the most recent trade price, or the listing price when
// no trade has occurred yet.
func (me *MatchingEngine) LastPrice() decimal.Decimal {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.lastPrice
}

func (me *MatchingEngine) GetOrderBook() *OrderBook {
	return me.orderBook
}

func (me *MatchingEngine) publishTrade(trade *Trade) {
	me.eventBus.Publish(Event{
		Type:      EventTypeNewTrade,
		Timestamp: time.Now(),
		Data: NewTradeEvent{
			TradeID:     trade.TradeID,
			Symbol:      trade.Symbol,
			BuyOrderID:  trade.BuyOrderID,
			SellOrderID: trade.SellOrderID,
			BuyerID:     trade.BuyerID,
			SellerID:    trade.SellerID,
			Price:       trade.Price,
			Quantity:    trade.Quantity,
			Timestamp:   trade.Timestamp,
		},
	})

	qty, _ := decimal.NewFromInt(trade.Quantity).Float64()
	metrics.RecordTrade(trade.Symbol, qty)
}

func (me *MatchingEngine) publishCancelled(order *models.Order) {
	me.eventBus.Publish(Event{
		Type:      EventTypeOrderCancelled,
		Timestamp: time.Now(),
		Data:      order,
	})
}

func (me *MatchingEngine) publishOrderbookChange(side models.OrderSide, action string, price decimal.Decimal, newSize, oldSize int64) {
	me.eventBus.Publish(Event{
		Type:      EventTypeOrderbookChange,
		Timestamp: time.Now(),
		Data: OrderbookChangeEvent{
			Symbol:    me.Symbol(),
			Side:      string(side),
			Action:    action,
			Price:     price,
			NewSize:   newSize,
			OldSize:   oldSize,
			Timestamp: time.Now(),
		},
	})
}

// updateOrderbookMetrics refreshes the Prometheus book gauges
func (me *MatchingEngine) updateOrderbookMetrics() {
	symbol := me.Symbol()

	metrics.UpdateOrderbookDepth(symbol, "buy", float64(me.orderBook.BidDepth()))
	metrics.UpdateOrderbookDepth(symbol, "sell", float64(me.orderBook.AskDepth()))

	bestBidPrice := 0.0
	bestAskPrice := 0.0
	if bid, ok := me.orderBook.BestBid(); ok {
		bestBidPrice, _ = bid.Price.Float64()
	}
	if ask, ok := me.orderBook.BestAsk(); ok {
		bestAskPrice, _ = ask.Price.Float64()
	}

	metrics.UpdateBestPrices(symbol, bestBidPrice, bestAskPrice)
}

// GetStats returns engine counters for diagnostics
func (me *MatchingEngine) GetStats() map[string]interface{} {
	me.mu.RLock()
	defer me.mu.RUnlock()

	return map[string]interface{}{
		"symbol":             me.Symbol(),
		"is_running":         me.isRunning,
		"resting_orders":     me.orderBook.Size(),
		"parked_stops":       me.stops.Len(),
		"bid_levels":         me.orderBook.Bids.Len(),
		"ask_levels":         me.orderBook.Asks.Len(),
		"command_backlog":    len(me.commandChan),
		"commands_processed": me.commandsProcessed,
	}
}
