package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shubhamavl/suspensionpcb-can-go/logging"
)

// WSMessage is the envelope for every hub broadcast.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) Send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// WSHub fans broadcasts out to the connected clients of one topic (live
// weights, capture progress, flash progress).
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	logger  logging.Logger
}

func NewWSHub(logger logging.Logger) *WSHub {
	if logger == nil {
		logger = &logging.NullLogger{}
	}
	return &WSHub{clients: make(map[*WSClient]struct{}), logger: logger}
}

func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *WSHub) Broadcast(msg WSMessage) {
	// Marshal once for consistency across clients
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnf("ws: marshal broadcast %q: %v", msg.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}
