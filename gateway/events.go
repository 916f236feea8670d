package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one state-change notification pushed to WebSocket clients
type Event struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientBuffer   = 32
	broadcastDepth = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect from anywhere on the operator's network
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// eventHub fans state-change events out to connected WebSocket clients.
// Slow clients are dropped rather than allowed to stall the hub.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	events  chan Event
	logger  *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		clients: make(map[*client]struct{}),
		events:  make(chan Event, broadcastDepth),
		logger:  logger.With("component", "event-hub"),
	}
}

// broadcast enqueues an event for all clients. Never blocks; the event is
// dropped when the hub queue is full.
func (h *eventHub) broadcast(ev Event) {
	ev.Time = time.Now()
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("Event queue full, dropping event", "type", ev.Type)
	}
}

func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// run pumps queued events to every client until the context ends
func (h *eventHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					// Slow client, disconnect it
					go h.remove(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *eventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", "clients", count)

	go h.writePump(c)
	go h.readPump(c)
}

// writePump serializes events and pings onto one client connection
func (h *eventHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
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

// readPump drains (and discards) client frames so pongs and close frames
// are processed
func (h *eventHub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *eventHub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if present {
		close(c.send)
		_ = c.conn.Close()
		h.logger.Debug("WebSocket client disconnected")
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		_ = c.conn.Close()
	}
}
