package engine

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange/models"
)

// PriceLevel is the FIFO queue of resting orders at a single price.
// Queue order is strict arrival order; Volume is the aggregate remaining
// quantity across the queue.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders *list.List
	Volume int64
}

// NewPriceLevel creates a new price level
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: list.New(),
	}
}

func (pl *PriceLevel) AddOrder(order *models.Order) *list.Element {
	element := pl.Orders.PushBack(order)
	pl.Volume += order.RemainingQuantity()
	return element
}

func (pl *PriceLevel) RemoveOrder(element *list.Element) {
	if element == nil {
		return
	}
	order := element.Value.(*models.Order)
	pl.Volume -= order.RemainingQuantity()
	pl.Orders.Remove(element)
}

// Front returns the earliest resting order at this level without removing it
func (pl *PriceLevel) Front() *models.Order {
	element := pl.Orders.Front()
	if element == nil {
		return nil
	}
	return element.Value.(*models.Order)
}

func (pl *PriceLevel) IsEmpty() bool {
	return pl.Orders.Len() == 0
}

func (pl *PriceLevel) Less(than btree.Item) bool {
	other := than.(*PriceLevel)
	return pl.Price.LessThan(other.Price)
}

// OrderBookSide holds one side's price levels in a btree keyed by price
type OrderBookSide struct {
	tree *btree.BTree
}

func NewOrderBookSide() *OrderBookSide {
	return &OrderBookSide{
		tree: btree.New(32),
	}
}

func (obs *OrderBookSide) GetOrCreatePriceLevel(price decimal.Decimal) *PriceLevel {
	searchLevel := &PriceLevel{Price: price}

	if item := obs.tree.Get(searchLevel); item != nil {
		return item.(*PriceLevel)
	}

	newLevel := NewPriceLevel(price)
	obs.tree.ReplaceOrInsert(newLevel)
	return newLevel
}

// RemovePriceLevel removes a price level from the tree
func (obs *OrderBookSide) RemovePriceLevel(price decimal.Decimal) {
	searchLevel := &PriceLevel{Price: price}
	obs.tree.Delete(searchLevel)
}

// GetBestPrice returns the best price level (highest for bids, lowest for asks)
func (obs *OrderBookSide) GetBestPrice(isBid bool) *PriceLevel {
	var item btree.Item
	if isBid {
		item = obs.tree.Max()
	} else {
		item = obs.tree.Min()
	}

	if item != nil {
		return item.(*PriceLevel)
	}
	return nil
}

// Ascend iterates through price levels in ascending order
func (obs *OrderBookSide) Ascend(iterator btree.ItemIterator) {
	obs.tree.Ascend(iterator)
}

// Descend iterates through price levels in descending order
func (obs *OrderBookSide) Descend(iterator btree.ItemIterator) {
	obs.tree.Descend(iterator)
}

// Len returns the number of price levels
func (obs *OrderBookSide) Len() int {
	return obs.tree.Len()
}

// OrderLocation tracks where a resting order sits in the book
type OrderLocation struct {
	PriceLevel *PriceLevel
	Element    *list.Element
}

// Quote is a top-of-book price with its aggregate resting quantity
type Quote struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// DepthLevel is one price level in a depth snapshot
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// OrderBook holds all resting orders for one instrument: a descending-best
// bid side, an ascending-best ask side and an O(1) id index. The book is
// only ever mutated by its engine's matching worker; the RWMutex exists so
// snapshot reads (best bid/ask, depth) are safe between operations.
type OrderBook struct {
	Symbol string
	Bids   *OrderBookSide
	Asks   *OrderBookSide
	orders map[uuid.UUID]*OrderLocation
	mu     sync.RWMutex
}

// NewOrderBook creates an empty order book for an instrument
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   NewOrderBookSide(),
		Asks:   NewOrderBookSide(),
		orders: make(map[uuid.UUID]*OrderLocation),
	}
}

func (ob *OrderBook) sideFor(side models.OrderSide) *OrderBookSide {
	if side == models.OrderSideBuy {
		return ob.Bids
	}
	return ob.Asks
}

// Insert adds a resting order at the tail of its price level, creating the
// level if needed. Only limit orders rest; market orders never join the book.
func (ob *OrderBook) Insert(order *models.Order) error {
	if order.RemainingQuantity() <= 0 {
		return fmt.Errorf("%w: non-positive remaining quantity", ErrInvalidOrder)
	}
	if order.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: resting order requires a limit price", ErrInvalidOrder)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	priceLevel := ob.sideFor(order.Side).GetOrCreatePriceLevel(order.Price)
	element := priceLevel.AddOrder(order)

	ob.orders[order.ID] = &OrderLocation{
		PriceLevel: priceLevel,
		Element:    element,
	}

	return nil
}

// Remove extracts a resting order from the book, dropping its price level
// if it becomes empty. Returns ErrNotFound if the order is not resting.
func (ob *OrderBook) Remove(orderID uuid.UUID) (*models.Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	location, exists := ob.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	order := location.Element.Value.(*models.Order)
	location.PriceLevel.RemoveOrder(location.Element)

	if location.PriceLevel.IsEmpty() {
		ob.sideFor(order.Side).RemovePriceLevel(location.PriceLevel.Price)
	}

	delete(ob.orders, orderID)
	return order, nil
}

// Reduce decrements a resting order's level volume after a fill of
// filledQty shares, removing the order from the book once nothing remains.
func (ob *OrderBook) Reduce(orderID uuid.UUID, filledQty int64) error {
	ob.mu.Lock()

	location, exists := ob.orders[orderID]
	if !exists {
		ob.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	location.PriceLevel.Volume -= filledQty

	order := location.Element.Value.(*models.Order)
	if order.RemainingQuantity() <= 0 {
		location.PriceLevel.RemoveOrder(location.Element)
		if location.PriceLevel.IsEmpty() {
			ob.sideFor(order.Side).RemovePriceLevel(location.PriceLevel.Price)
		}
		delete(ob.orders, orderID)
	}

	ob.mu.Unlock()
	return nil
}

// GetOrder retrieves a resting order by ID, or nil if not resting
func (ob *OrderBook) GetOrder(orderID uuid.UUID) *models.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	location, exists := ob.orders[orderID]
	if !exists {
		return nil
	}
	return location.Element.Value.(*models.Order)
}

// GetBestBid returns the highest bid price level, or nil
func (ob *OrderBook) GetBestBid() *PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.Bids.GetBestPrice(true)
}

// GetBestAsk returns the lowest ask price level, or nil
func (ob *OrderBook) GetBestAsk() *PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.Asks.GetBestPrice(false)
}

// BestBid returns the top-of-book bid quote, or ok=false when the side is empty
func (ob *OrderBook) BestBid() (Quote, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	level := ob.Bids.GetBestPrice(true)
	if level == nil {
		return Quote{}, false
	}
	return Quote{Price: level.Price, Quantity: level.Volume}, true
}

// BestAsk returns the top-of-book ask quote, or ok=false when the side is empty
func (ob *OrderBook) BestAsk() (Quote, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	level := ob.Asks.GetBestPrice(false)
	if level == nil {
		return Quote{}, false
	}
	return Quote{Price: level.Price, Quantity: level.Volume}, true
}

// PeekTop returns the earliest order at the best price on the given side
// without removing it, or nil when that side is empty.
func (ob *OrderBook) PeekTop(side models.OrderSide) *models.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	level := ob.sideFor(side).GetBestPrice(side == models.OrderSideBuy)
	if level == nil {
		return nil
	}
	return level.Front()
}

// GetSpread returns the bid-ask spread, zero when either side is empty
func (ob *OrderBook) GetSpread() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bestBid := ob.Bids.GetBestPrice(true)
	bestAsk := ob.Asks.GetBestPrice(false)

	if bestBid == nil || bestAsk == nil {
		return decimal.Zero
	}

	return bestAsk.Price.Sub(bestBid.Price)
}

// Depth returns up to n price levels per side, bids descending from the
// best bid and asks ascending from the best ask.
func (ob *OrderBook) Depth(n int) (bids, asks []DepthLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids = make([]DepthLevel, 0, n)
	asks = make([]DepthLevel, 0, n)

	count := 0
	ob.Bids.Descend(func(item btree.Item) bool {
		if count >= n {
			return false
		}
		level := item.(*PriceLevel)
		bids = append(bids, DepthLevel{Price: level.Price, Quantity: level.Volume, Orders: level.Orders.Len()})
		count++
		return true
	})

	count = 0
	ob.Asks.Ascend(func(item btree.Item) bool {
		if count >= n {
			return false
		}
		level := item.(*PriceLevel)
		asks = append(asks, DepthLevel{Price: level.Price, Quantity: level.Volume, Orders: level.Orders.Len()})
		count++
		return true
	})

	return bids, asks
}

// IsCrossed reports whether best bid >= best ask. Outside of a single
// matching pass this must always be false.
func (ob *OrderBook) IsCrossed() bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bestBid := ob.Bids.GetBestPrice(true)
	bestAsk := ob.Asks.GetBestPrice(false)
	if bestBid == nil || bestAsk == nil {
		return false
	}
	return bestBid.Price.GreaterThanOrEqual(bestAsk.Price)
}

// Size returns the total number of resting orders in the book
func (ob *OrderBook) Size() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// BidDepth returns the number of resting buy orders
func (ob *OrderBook) BidDepth() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	count := 0
	ob.Bids.Descend(func(i btree.Item) bool {
		count += i.(*PriceLevel).Orders.Len()
		return true
	})
	return count
}

// AskDepth returns the number of resting sell orders
func (ob *OrderBook) AskDepth() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	count := 0
	ob.Asks.Ascend(func(i btree.Item) bool {
		count += i.(*PriceLevel).Orders.Len()
		return true
	})
	return count
}
