// WebSocket push for the field UI: queue-change and drain events are
// broadcast so pending badges update without polling.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/fieldsync/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The push endpoint only serves the local field UI.
		return true
	},
}

// Event types pushed to the UI.
const (
	EventQueueChanged  = "queue.changed"
	EventDrainFinished = "drain.finished"
	EventOnlineChanged = "network.changed"
)

// envelope wraps all pushed messages.
type envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// hub maintains the connected UI clients and broadcasts events to them.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

// Broadcast queues an event for every connected client. Slow clients drop
// events rather than stalling the engine.
func (h *hub) Broadcast(eventType string, data map[string]interface{}) {
	msg, err := json.Marshal(envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, send := range h.clients {
		select {
		case send <- msg:
		default:
		}
	}
}

// ServeHTTP upgrades a UI connection and streams events until it closes.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("push").WithError(err).Warn("websocket upgrade failed")
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Discard inbound frames; the push channel is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for msg := range send {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
