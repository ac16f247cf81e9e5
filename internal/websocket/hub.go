package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/organizer"
)

type MessageType string

const (
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeActivity  MessageType = "activity"
)

type Message struct {
	Type       MessageType     `json:"type"`
	InstanceID string          `json:"instanceId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Hub streams organizer activity to connected WebSocket clients. A client that
// cannot keep up is disconnected rather than slowing down the organizer.
type Hub struct {
	instanceID   string
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(instanceID string, logger zerolog.Logger) *Hub {
	return &Hub{
		instanceID:   instanceID,
		logger:       logger.With().Str("component", "websocket").Logger(),
		pingInterval: 30 * time.Second,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterHandlers exposes the stream at /ws
func (h *Hub) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/ws", h)
}

// ServeHTTP upgrades the request and streams messages until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", count).Msg("WebSocket client connected")

	go h.readPump(c)
	h.writePump(c)
}

// readPump discards client messages; it exists to notice disconnects
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	heartbeatTicker := time.NewTicker(h.pingInterval)
	defer func() {
		heartbeatTicker.Stop()
		h.remove(c)
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-heartbeatTicker.C:
			data, err := h.encode(MessageTypeHeartbeat, map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})
			if err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) encode(msgType MessageType, payload interface{}) ([]byte, error) {
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:       msgType,
		InstanceID: h.instanceID,
		Payload:    payloadData,
	})
}

// Publish sends a message to every connected client without blocking
func (h *Hub) Publish(msgType MessageType, payload interface{}) {
	data, err := h.encode(msgType, payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("Failed to encode message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Msg("WebSocket client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Notify implements organizer.Notifier
func (h *Hub) Notify(a organizer.Activity) {
	h.Publish(MessageTypeActivity, a)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
