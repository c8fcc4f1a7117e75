package web

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockedby/memesite/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// outbound is one message and the user it is for. An empty userID reaches
// every client.
type outbound struct {
	userID string
	data   []byte
}

// Hub fans messages out to connected websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub. Call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client set. It never returns.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if msg.userID != "" && c.userID != msg.userID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow client
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Broadcast sends message to every client. Byte slices go out as-is,
// anything else is JSON-encoded.
func (h *Hub) Broadcast(message any) {
	var data []byte
	switch m := message.(type) {
	case []byte:
		data = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			logger.Get().Error().Err(err).Msg("encode websocket message")
			return
		}
		data = b
	}
	h.broadcast <- outbound{data: data}
}

// Notify sends a typed event to the clients of userID only.
func (h *Hub) Notify(userID, eventType string, payload any) {
	if userID == "" {
		logger.Get().Warn().Str("type", eventType).Msg("dropping websocket event without a user")
		return
	}
	data, err := NewEvent(eventType, payload)
	if err != nil {
		logger.Get().Error().Err(err).Str("type", eventType).Msg("encode websocket event")
		return
	}
	h.broadcast <- outbound{userID: userID, data: data}
}

// Client is one websocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Serve registers an upgraded connection for userID and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn, userID string) {
	c := &Client{hub: h, conn: conn, userID: userID, send: make(chan []byte, 256)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames; clients never send data.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
