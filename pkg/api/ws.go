package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pingpal-io/pingpal/pkg/bus"
	"github.com/pingpal-io/pingpal/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin requests have no Origin header
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// WSEvent represents an event sent to WebSocket clients.
type WSEvent struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub manages WebSocket connections and broadcasts events.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WSEvent
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSEvent, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.DebugC("ws", "Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			logger.DebugC("ws", "Client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, drop
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	event := WSEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	select {
	case h.broadcast <- event:
	default:
		// Channel full, drop event
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}

// writePump drains the client's send channel onto the socket.
func (c *WSClient) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
}

// readPump discards client messages; the stream is broadcast-only. Its real
// job is noticing the disconnect.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// EventBridge forwards bus activity to the websocket hub.
type EventBridge struct {
	systemTap   <-chan interface{}
	inboundTap  <-chan interface{}
	outboundTap <-chan interface{}
	hub         *WSHub
}

// NewEventBridge subscribes taps on the bus.
func NewEventBridge(b *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{
		systemTap:   b.SubscribeSystem("ops-ws"),
		inboundTap:  b.SubscribeInboundTap("ops-ws"),
		outboundTap: b.SubscribeOutboundTap("ops-ws"),
		hub:         hub,
	}
}

// Run pumps tap events into the hub until ctx is cancelled.
func (eb *EventBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eb.systemTap:
			if !ok {
				return
			}
			if se, isSys := ev.(bus.SystemEvent); isSys {
				eb.hub.Broadcast(se.Type, se.Data)
			}
		case msg, ok := <-eb.inboundTap:
			if !ok {
				return
			}
			eb.hub.Broadcast("message.inbound", sanitizeInbound(msg))
		case msg, ok := <-eb.outboundTap:
			if !ok {
				return
			}
			eb.hub.Broadcast("message.outbound", sanitizeOutbound(msg))
		}
	}
}

// sanitizeInbound strips message text and attachment payload details before
// broadcast; dashboards get traffic shape, never content.
func sanitizeInbound(v interface{}) interface{} {
	msg, ok := v.(bus.InboundMessage)
	if !ok {
		return v
	}
	return map[string]interface{}{
		"channel":     msg.Channel,
		"chat_id":     msg.ChatID,
		"sender_id":   msg.SenderID,
		"length":      len(msg.Content),
		"attachments": len(msg.Attachments),
	}
}

// sanitizeOutbound mirrors sanitizeInbound for replies.
func sanitizeOutbound(v interface{}) interface{} {
	msg, ok := v.(bus.OutboundMessage)
	if !ok {
		return v
	}
	return map[string]interface{}{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"length":  len(msg.Content),
		"edit":    msg.EditMessageID != "",
	}
}
