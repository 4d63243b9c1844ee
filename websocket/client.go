package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

type Client struct {
	id            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[Topic]bool

	// shareholderID scopes the orders snapshot; empty for anonymous viewers
	shareholderID string
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, shareholderID string) *Client {
	return &Client{
		id:            uuid.New().String(),
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[Topic]bool),
		shareholderID: shareholderID,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	c.hub.UpdateActivity(c)

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling client message: %v", err)
		c.sendError("Invalid message format")
		return
	}

	switch msg.Action {
	case "subscribe":
		c.handleSubscribe(msg.Topic, msg.Symbol)
	case "unsubscribe":
		c.handleUnsubscribe(msg.Topic)
	case "ping":
		c.sendPong()
	case "resync":
		// Client requesting a fresh snapshot after missed messages
		c.handleResync(msg.Topic, msg.Symbol)
	default:
		c.sendError("Unknown action: " + msg.Action)
	}
}

func validTopic(topic Topic) bool {
	switch topic {
	case TopicQuotes, TopicTrades, TopicOrders:
		return true
	}
	return false
}

// handleResync sends a fresh snapshot to help client recover from missed messages
func (c *Client) handleResync(topicStr, symbol string) {
	topic := Topic(topicStr)

	if !validTopic(topic) {
		c.sendError("Invalid topic for resync: " + topicStr)
		return
	}

	if !c.subscriptions[topic] {
		c.sendError("Not subscribed to topic: " + topicStr)
		return
	}

	c.sendSnapshot(topic, symbol)

	ack := Message{
		Type:      "resynced",
		Topic:     topicStr,
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"message": "Fresh snapshot sent for " + topicStr,
		},
	}
	c.sendMessage(ack)
}

// handleSubscribe processes a subscription request
func (c *Client) handleSubscribe(topicStr, symbol string) {
	topic := Topic(topicStr)

	if !validTopic(topic) {
		c.sendError("Invalid topic: " + topicStr)
		return
	}

	c.hub.Subscribe(c, topic)
	c.subscriptions[topic] = true

	ack := Message{
		Type:      "subscribed",
		Topic:     topicStr,
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"message": "Successfully subscribed to " + topicStr,
		},
	}
	c.sendMessage(ack)

	c.sendSnapshot(topic, symbol)
}

// handleUnsubscribe processes an unsubscription request
func (c *Client) handleUnsubscribe(topicStr string) {
	topic := Topic(topicStr)

	c.hub.Unsubscribe(c, topic)
	delete(c.subscriptions, topic)

	ack := Message{
		Type:      "unsubscribed",
		Topic:     topicStr,
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"message": "Successfully unsubscribed from " + topicStr,
		},
	}
	c.sendMessage(ack)
}

// sendSnapshot sends initial snapshot when subscribing to a topic
func (c *Client) sendSnapshot(topic Topic, symbol string) {
	provider := c.hub.GetSnapshotProvider()
	if provider == nil {
		log.Printf("Snapshot provider not available")
		return
	}

	var snapshotData interface{}

	switch topic {
	case TopicQuotes:
		snapshotData = provider.GetQuotesSnapshot()
	case TopicTrades:
		snapshotData = provider.GetTradesSnapshot(symbol, 50)
	case TopicOrders:
		snapshotData = provider.GetOrdersSnapshot(c.shareholderID)
	default:
		log.Printf("Unknown topic for snapshot: %s", topic)
		return
	}

	snapshot := Message{
		Type:      "snapshot",
		Topic:     string(topic),
		Timestamp: time.Now().Unix(),
		Data:      snapshotData,
	}
	c.sendMessage(snapshot)
}

// sendMessage sends a message to the client
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("Client %s send buffer full, dropping message", c.id)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errorMsg string) {
	msg := Message{
		Type:      "error",
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"error": errorMsg,
		},
	}
	c.sendMessage(msg)
}

// sendPong sends a pong response to the client
func (c *Client) sendPong() {
	msg := Message{
		Type:      "pong",
		Timestamp: time.Now().Unix(),
	}
	c.sendMessage(msg)
}

// Start begins the read and write pumps for this client
func (c *Client) Start() {
	welcome := Message{
		Type:      "welcome",
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"client_id": c.id,
			"message":   "Connected to market data stream",
			"topics":    []string{"quotes", "trades", "orders"},
		},
	}
	c.sendMessage(welcome)

	go c.writePump()
	go c.readPump()
}
