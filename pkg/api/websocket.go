package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicenote-processor/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errNotDelivered = errors.New("notification not delivered to any connection")

type WebSocketMessage struct {
	Type        string `json:"type"`
	RecordingID string `json:"recordingId,omitempty"`
	DocumentID  string `json:"documentId,omitempty"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan WebSocketMessage
}

// Hub fans notifications out to every open connection of a user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Notify announces a finished document. A user without open connections is
// not an error; a user whose connections all refused the message is.
func (h *Hub) Notify(_ context.Context, userID, documentID, title, contentType string) error {
	subscribers, delivered := h.broadcast(userID, WebSocketMessage{
		Type:        "content_ready",
		DocumentID:  documentID,
		Title:       title,
		ContentType: contentType,
	})
	if subscribers == 0 {
		log.Printf("WebSocket Hub: user %s has no open connections, document %s not pushed", userID, documentID)
		return nil
	}
	if delivered == 0 {
		return errNotDelivered
	}
	return nil
}

func (h *Hub) RecordingStatusChanged(_ context.Context, userID, recordingID string, status models.RecordingStatus) {
	h.broadcast(userID, WebSocketMessage{
		Type:        "recording_status",
		RecordingID: recordingID,
		Status:      string(status),
	})
}

func (h *Hub) broadcast(userID string, msg WebSocketMessage) (subscribers, delivered int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		subscribers++
		select {
		case c.send <- msg:
			delivered++
		default:
			log.Printf("WebSocket Hub: dropping %s for slow connection of user %s", msg.Type, userID)
		}
	}
	return subscribers, delivered
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return
	}
	delete(h.clients[c.userID], c)
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.conn.Close()
	}
}

func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket Hub: upgrade failed: %v", err)
		return
	}

	c := &client{userID: userFrom(r), conn: conn, send: make(chan WebSocketMessage, sendBuffer)}
	h.hub.register(c)
	log.Printf("WebSocket Hub: user %s connected", c.userID)

	go c.writePump()
	c.readPump(h.hub)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		log.Printf("WebSocket Hub: user %s disconnected", c.userID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WebSocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := WebSocketMessage{Type: "pong"}
		if msg.Type != "ping" {
			reply = WebSocketMessage{Type: "error", Error: "Unknown message type"}
		}
		if !c.enqueue(h, reply) {
			return
		}
	}
}

// enqueue queues a reply unless the connection is already gone.
func (c *client) enqueue(h *Hub, msg WebSocketMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
	default:
	}
	return true
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
