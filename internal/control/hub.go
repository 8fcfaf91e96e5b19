package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single WebSocket write
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before it is dropped
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The feed is as open as the rest of the control surface.
		return true
	},
}

// wsClient serializes writes to one connection; the state feed and the ping
// loop both write, and gorilla allows a single concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// stateHub tracks WebSocket subscribers to the recorder state feed.
type stateHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newStateHub() *stateHub {
	return &stateHub{clients: make(map[*wsClient]bool)}
}

func (h *stateHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("control: state subscriber connected", "subscribers", n)
}

func (h *stateHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("control: state subscriber disconnected", "subscribers", n)
}

func (h *stateHub) hasClients() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) > 0
}

// broadcast sends one state snapshot to every subscriber. Connections that
// fail to take the write are dropped.
func (h *stateHub) broadcast(v any) {
	if !h.hasClients() {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("control: marshal state feed failed", "error", err)
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			slog.Debug("control: dropping state subscriber", "error", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// closeAll disconnects every subscriber, used at server shutdown.
func (h *stateHub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.write(websocket.CloseMessage, msg)
		c.conn.Close()
	}
}

// handleStateSocket upgrades the connection and subscribes it to the feed.
func (s *Server) handleStateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("control: websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn}

	// Push the current state right away so clients do not wait a tick.
	if data, err := json.Marshal(s.stateSnapshot()); err == nil {
		if err := c.write(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
	}

	s.hub.register(c)
	go s.hub.readPump(c)
}

// readPump keeps the connection alive with pings and detects client
// disconnection. It owns the connection's teardown.
func (h *stateHub) readPump(c *wsClient) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("control: websocket read ended", "error", err)
			}
			return
		}
	}
}
