package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/marketsim/exchange/marketdata"
	"github.com/marketsim/exchange/models"
)

// Topic represents a WebSocket subscription topic
type Topic string

const (
	TopicQuotes Topic = "quotes"
	TopicTrades Topic = "trades"
	TopicOrders Topic = "orders"
)

// Hub maintains the set of active clients and broadcasts feed updates to
// them. It implements marketdata.Publisher, so attaching it to the feed is
// enough to stream every trade and quote change.
type Hub struct {
	clients map[*Client]bool

	// Client subscriptions: topic -> set of clients
	subscriptions map[Topic]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcastQuote chan *QuoteMessage
	broadcastTrade chan *TradeMessage
	broadcastOrder chan *OrderMessage

	// Quote updates are coalesced per symbol and flushed on a timer so a
	// burst of book changes becomes one message per symbol.
	batchMutex    sync.Mutex
	pendingQuotes map[string]*QuoteMessage
	batchTimer    *time.Timer
	batchInterval time.Duration

	snapshotProvider *SnapshotProvider

	// Idle client cleanup
	idleCheckInterval time.Duration
	idleTimeout       time.Duration
	lastActivity      map[*Client]time.Time
	activityMutex     sync.RWMutex

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:           make(map[*Client]bool),
		subscriptions:     make(map[Topic]map[*Client]bool),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		broadcastQuote:    make(chan *QuoteMessage, 256),
		broadcastTrade:    make(chan *TradeMessage, 256),
		broadcastOrder:    make(chan *OrderMessage, 256),
		pendingQuotes:     make(map[string]*QuoteMessage),
		batchInterval:     100 * time.Millisecond,
		idleCheckInterval: 30 * time.Second,
		idleTimeout:       5 * time.Minute,
		lastActivity:      make(map[*Client]time.Time),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	log.Println("WebSocket Hub started")

	go h.cleanupIdleClients()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			h.activityMutex.Lock()
			h.lastActivity[client] = time.Now()
			h.activityMutex.Unlock()

			log.Printf("Client registered: %s (total clients: %d)", client.id, len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				for topic := range h.subscriptions {
					delete(h.subscriptions[topic], client)
				}
				delete(h.clients, client)
				close(client.send)
				log.Printf("Client unregistered: %s (total clients: %d)", client.id, len(h.clients))
			}
			h.mu.Unlock()

			h.activityMutex.Lock()
			delete(h.lastActivity, client)
			h.activityMutex.Unlock()

		case quote := <-h.broadcastQuote:
			h.batchMutex.Lock()
			h.pendingQuotes[quote.Symbol] = quote

			if h.batchTimer == nil {
				h.batchTimer = time.AfterFunc(h.batchInterval, func() {
					h.flushQuotes()
				})
			}
			h.batchMutex.Unlock()

		case trade := <-h.broadcastTrade:
			// Trades go out immediately: high value, less frequent
			message := Message{
				Type:      "trade",
				Topic:     string(TopicTrades),
				Data:      trade,
				Timestamp: time.Now().Unix(),
			}
			h.broadcastToTopic(TopicTrades, message)

		case order := <-h.broadcastOrder:
			message := Message{
				Type:      "order",
				Topic:     string(TopicOrders),
				Data:      order,
				Timestamp: time.Now().Unix(),
			}
			h.broadcastToTopic(TopicOrders, message)
		}
	}
}

// flushQuotes sends all coalesced quote updates as a batch
func (h *Hub) flushQuotes() {
	h.batchMutex.Lock()
	defer h.batchMutex.Unlock()

	if len(h.pendingQuotes) == 0 {
		h.batchTimer = nil
		return
	}

	quotes := make([]*QuoteMessage, 0, len(h.pendingQuotes))
	for _, quote := range h.pendingQuotes {
		quotes = append(quotes, quote)
	}

	message := Message{
		Type:      "quote_batch",
		Topic:     string(TopicQuotes),
		Data:      quotes,
		Timestamp: time.Now().Unix(),
	}

	h.broadcastToTopic(TopicQuotes, message)

	h.pendingQuotes = make(map[string]*QuoteMessage)
	h.batchTimer = nil
}

// broadcastToTopic sends a message to all clients subscribed to a topic
func (h *Hub) broadcastToTopic(topic Topic, message Message) {
	h.mu.RLock()
	subscribers, exists := h.subscriptions[topic]
	h.mu.RUnlock()

	if !exists || len(subscribers) == 0 {
		return
	}

	// Marshal once, send to all subscribers
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range subscribers {
		select {
		case client.send <- data:
		default:
			// Client's send buffer is full, skip
			log.Printf("Client %s send buffer full, skipping message", client.id)
		}
	}
}

// Subscribe adds a client to a topic subscription
func (h *Hub) Subscribe(client *Client, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][client] = true

	log.Printf("Client %s subscribed to %s (subscribers: %d)",
		client.id, topic, len(h.subscriptions[topic]))
}

// Unsubscribe removes a client from a topic subscription
func (h *Hub) Unsubscribe(client *Client, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, exists := h.subscriptions[topic]; exists {
		delete(subscribers, client)
		log.Printf("Client %s unsubscribed from %s (subscribers: %d)",
			client.id, topic, len(subscribers))
	}
}

// PublishTrade streams a trade to subscribed clients. Implements
// marketdata.Publisher.
func (h *Hub) PublishTrade(tick marketdata.TradeTick) {
	trade := &TradeMessage{
		TradeID:   tick.TradeID,
		Symbol:    tick.Symbol,
		Price:     tick.Price,
		Quantity:  tick.Quantity,
		Timestamp: tick.Timestamp.UnixMilli(),
	}

	select {
	case h.broadcastTrade <- trade:
	default:
		log.Println("Warning: Trade channel full, dropping message")
	}
}

// PublishQuote streams a quote update to subscribed clients. Implements
// marketdata.Publisher.
func (h *Hub) PublishQuote(quote marketdata.Quote) {
	msg := &QuoteMessage{
		Symbol:        quote.Symbol,
		LastPrice:     quote.LastPrice,
		BestBid:       quote.BestBid,
		BestBidSize:   quote.BestBidSize,
		BestAsk:       quote.BestAsk,
		BestAskSize:   quote.BestAskSize,
		SessionVolume: quote.SessionVolume,
		Timestamp:     quote.UpdatedAt.UnixMilli(),
	}

	select {
	case h.broadcastQuote <- msg:
	default:
		log.Println("Warning: Quote channel full, dropping message")
	}
}

// BroadcastOrder sends an order state update to subscribed clients
func (h *Hub) BroadcastOrder(order *models.Order) {
	msg := &OrderMessage{
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
	}

	select {
	case h.broadcastOrder <- msg:
	default:
		log.Println("Warning: Order channel full, dropping message")
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := map[string]interface{}{
		"total_clients": len(h.clients),
		"subscriptions": make(map[string]int),
	}

	for topic, subscribers := range h.subscriptions {
		stats["subscriptions"].(map[string]int)[string(topic)] = len(subscribers)
	}

	return stats
}

// SetSnapshotProvider sets the snapshot provider for the hub
func (h *Hub) SetSnapshotProvider(provider *SnapshotProvider) {
	h.snapshotProvider = provider
}

// GetSnapshotProvider returns the snapshot provider
func (h *Hub) GetSnapshotProvider() *SnapshotProvider {
	return h.snapshotProvider
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// UpdateActivity updates the last activity time for a client
func (h *Hub) UpdateActivity(client *Client) {
	h.activityMutex.Lock()
	h.lastActivity[client] = time.Now()
	h.activityMutex.Unlock()
}

// cleanupIdleClients periodically checks for and disconnects idle clients
func (h *Hub) cleanupIdleClients() {
	ticker := time.NewTicker(h.idleCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		var idleClients []*Client

		h.activityMutex.RLock()
		h.mu.RLock()
		for client := range h.clients {
			if lastActive, exists := h.lastActivity[client]; exists {
				if now.Sub(lastActive) > h.idleTimeout {
					idleClients = append(idleClients, client)
				}
			}
		}
		h.mu.RUnlock()
		h.activityMutex.RUnlock()

		for _, client := range idleClients {
			log.Printf("Disconnecting idle client: %s (idle for %v)", client.id, h.idleTimeout)
			_ = client.conn.Close() // This will trigger unregister in readPump
		}
	}
}
