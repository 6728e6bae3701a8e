package quotefeed

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub broadcasts market-data updates to WebSocket clients. It is the
// live-streaming counterpart to Publisher's in-process channels: a
// caller typically subscribes a Publisher channel and forwards every
// value it receives into Hub.Broadcast.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a Hub accepting connections from any origin — this
// engine has no browser-facing session model to enforce same-origin
// against.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS upgrades an HTTP connection to a WebSocket and registers it
// for broadcasts until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn)
	return nil
}

// readPump discards client messages; its only job is to notice when the
// connection closes so the client can be dropped from the broadcast set.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends v as JSON to every connected client, dropping any
// client whose write fails.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(v); err != nil {
			h.log.Debug("dropping websocket client", zap.Error(err))
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
