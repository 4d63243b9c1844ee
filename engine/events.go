package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeNewTrade        EventType = "NewTrade"
	EventTypeOrderPlaced     EventType = "OrderPlaced"
	EventTypeOrderCancelled  EventType = "OrderCancelled"
	EventTypeStopTriggered   EventType = "StopTriggered"
	EventTypeOrderbookChange EventType = "OrderbookChange"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

type NewTradeEvent struct {
	TradeID     uuid.UUID
	Symbol      string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     string
	SellerID    string
	Price       decimal.Decimal
	Quantity    int64
	Timestamp   time.Time
}

type OrderbookChangeEvent struct {
	Symbol    string
	Side      string
	Action    string
	Price     decimal.Decimal
	NewSize   int64
	OldSize   int64
	Timestamp time.Time
}

type StopTriggeredEvent struct {
	OrderID   uuid.UUID
	Symbol    string
	StopPrice decimal.Decimal
	LastPrice decimal.Decimal
	Timestamp time.Time
}

type EventListener func(event Event)

const listenerQueueSize = 256

// EventBus fans engine events out to registered listeners. Each listener
// drains its own buffered queue on a dedicated goroutine, so events arrive
// at every listener in publish order. A listener that falls more than a
// queue behind applies backpressure to the publisher.
type EventBus struct {
	listeners map[EventType][]chan Event
	mu        sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[EventType][]chan Event),
	}
}

func (eb *EventBus) Subscribe(eventType EventType, listener EventListener) {
	queue := make(chan Event, listenerQueueSize)
	go func() {
		for event := range queue {
			listener(event)
		}
	}()

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.listeners[eventType] = append(eb.listeners[eventType], queue)
}

// Publish enqueues the event for every listener of its type. Sends happen
// under the read lock so Unsubscribe cannot close a queue mid-send.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, queue := range eb.listeners[event.Type] {
		queue <- event
	}
}

// Unsubscribe removes all listeners for a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, queue := range eb.listeners[eventType] {
		close(queue)
	}
	delete(eb.listeners, eventType)
}

// GetListenerCount returns the number of listeners for an event type
func (eb *EventBus) GetListenerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.listeners[eventType])
}
